package risk

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"agrivoice/internal/domain"
)

// ComfortLine is spoken when entering the support flow.
const ComfortLine = "きもち、うけとめました。ひとりでかかえこまないで。"

// EscalationQuestion asks whether to prepare a consultation sheet.
const EscalationQuestion = "だれかに相談してみませんか？「はい」か「いいえ」で教えてください。"

var nudges = map[domain.EmotionCategory][]string{
	domain.CategoryPhysical: {
		"むりせんでね。",
		"からだ、だいじにしてね。",
		"きょうはこのへんで、じゅうぶん。",
	},
	domain.CategoryWeather: {
		"こまめに休憩、わすれんでね。",
		"てんきにむりせず、いきましょう。",
	},
	domain.CategoryIsolation: {
		"ひとりでよくがんばってる。",
		"いつでもここにおるよ。",
	},
	domain.CategoryFinancial: {
		"かんがえすぎんでね。",
		"いっぽずつ、いきましょう。",
	},
	domain.CategoryMotivation: {
		"やる気がでないときもある。だいじょうぶ。",
		"きょうはこのくらいで、よか。",
	},
	domain.CategoryResignation: {
		"きもち、わかるよ。",
		"そうおもうときもある。だいじょうぶ。",
	},
}

var comforts = map[domain.EmotionCategory][]domain.ComfortContent{
	domain.CategoryPhysical: {
		{
			Title:      "からだ、おつかれさま",
			Message:    "痛みや疲れを感じながらの作業、ほんとうにお疲れさまです。",
			Suggestion: "15分だけでも横になって、からだを休めてみませんか。",
		},
		{
			Title:      "よくがんばった",
			Message:    "からだが悲鳴をあげてるサイン。聞いてあげて。",
			Suggestion: "ストレッチや入浴で、筋肉をほぐしてみて。",
		},
	},
	domain.CategoryWeather: {{
		Title:      "きびしい天気のなかで",
		Message:    "この天候での作業、ほんとうに大変だったはず。",
		Suggestion: "水分補給と休憩を忘れずに。明日の天気も確認しておきましょう。",
	}},
	domain.CategoryIsolation: {{
		Title:      "ひとりでがんばってる",
		Message:    "だれにも言えないこと、ここに話してくれてありがとう。",
		Suggestion: "地域の農業者交流会やJAの相談窓口、使ってみませんか。",
	}},
	domain.CategoryFinancial: {{
		Title:      "お金のこと、きついよね",
		Message:    "経営のプレッシャー、ひとりで抱えなくていい。",
		Suggestion: "農業経営アドバイザーや融資相談窓口に、一度話してみるのもあり。",
	}},
	domain.CategoryMotivation: {{
		Title:      "やる気が出ないとき",
		Message:    "そういう日もある。サボりじゃなくて、こころの休憩日。",
		Suggestion: "最低限だけやって、あとは好きなことしましょう。",
	}},
	domain.CategoryResignation: {{
		Title:      "つらいよね",
		Message:    "報われない気持ち、よくわかる。でも、記録を続けてるだけですごい。",
		Suggestion: "信頼できるだれかに、今の気持ちを話してみて。",
	}},
}

// Responder picks supportive phrases. Pick chooses an index in [0,n).
type Responder struct {
	Pick func(n int) int
}

// NewResponder uses a uniform random picker.
func NewResponder() Responder {
	return Responder{Pick: rand.IntN}
}

func (r Responder) pick(n int) int {
	if r.Pick == nil || n <= 1 {
		return 0
	}
	return r.Pick(n)
}

// Nudge returns a short spoken line for a tier-1 category, or "" when none exists.
func (r Responder) Nudge(category domain.EmotionCategory) string {
	pool := nudges[category]
	if len(pool) == 0 {
		return ""
	}
	return pool[r.pick(len(pool))]
}

// Comfort returns the tier-2 comfort card for category, falling back to physical.
func (r Responder) Comfort(category domain.EmotionCategory) domain.ComfortContent {
	pool, ok := comforts[category]
	if !ok {
		pool = comforts[domain.CategoryPhysical]
	}
	return pool[r.pick(len(pool))]
}

// WeatherCare returns a heat or cold warning for an outdoor temperature.
func WeatherCare(temp float64) string {
	switch {
	case temp >= 33:
		return "気温が高いです。こまめな水分補給と日陰での休憩を。"
	case temp >= 30:
		return "暑い日です。15分おきに水を飲んで。"
	case temp <= 5:
		return "冷え込みます。防寒をしっかり。温かい飲み物を手元に。"
	default:
		return ""
	}
}

// TomorrowHint is spoken after the comfort line when a forecast is available.
func TomorrowHint(f domain.Forecast) string {
	hint := "てんきにあわせて、むりなく。"
	switch {
	case f.MaxTemp >= 30:
		hint = "あさの涼しいうちだけ作業。ごごはやすむ。"
	case f.MaxTemp <= 10:
		hint = "さむいので、むりしないで。"
	}
	return fmt.Sprintf("あしたは%s、%s度。%s", f.Description, domain.FormatNumber(f.MaxTemp), hint)
}

// ConsultationSheet builds the copyable sheet handed to human support.
func ConsultationSheet(text string, now time.Time, forecast *domain.Forecast) string {
	lines := []string{
		"【営農相談シート】",
		fmt.Sprintf("日付: %d年%d月%d日", now.Year(), int(now.Month()), now.Day()),
		"営農者: _______________",
		"就農地: 長崎県長崎市茂木町",
		"",
		"【相談内容】",
		strings.TrimSpace(text),
		"",
	}
	if forecast != nil {
		lines = append(lines,
			"【当日の天気】",
			fmt.Sprintf("%s、最高%s℃ / 最低%s℃", forecast.Description,
				domain.FormatNumber(forecast.MaxTemp), domain.FormatNumber(forecast.MinTemp)),
			"",
		)
	}
	lines = append(lines,
		"【相談先】",
		"- 長崎県新規就農相談センター: 095-895-2946",
		"- JA長崎せいひ: 095-838-5200",
		"- よりそいホットライン: 0120-279-338（24時間無料）",
	)
	return strings.Join(lines, "\n")
}
