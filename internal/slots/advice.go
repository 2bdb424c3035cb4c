package slots

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"agrivoice/internal/domain"
)

// PlaceholderAdvice is returned when there is too little data to say anything specific.
const PlaceholderAdvice = "記録しました。詳細を追加すると、具体的な分析が可能になります。"

// PlaceholderStrategy is returned when no forward-looking line applies.
const PlaceholderStrategy = "記録完了。次回の入力で傾向分析が可能になります。"

const (
	actionsHeader    = "【次のアクション】"
	referencesHeader = "【参考】"
	nextPrefix       = "次回: "
)

var referenceLinks = []string{
	"長崎県農林技術開発センター: https://www.pref.nagasaki.jp/section/nougisen/",
	"農研機構 果樹研究部門: https://www.naro.go.jp/laboratory/nifts/",
	"JA長崎せいひ 枇杷栽培情報: https://www.ja-nagasakiseihi.jp/",
}

var (
	pestVerbRE   = regexp.MustCompile(`(が|を|は)?(い(た|ました|ます|る)|あっ(た|て)|出(た|て(い(た|る))?)|発生(し(た|て(い(た|る))?)?)?|見つか(った|って)|確認(し(た|て(い(た|る))?)?)?)$`)
	firstIntRE   = regexp.MustCompile(`\d+`)
	nextPrefixRE = regexp.MustCompile(`^次回:\s*`)
)

// CleanPestName strips a trailing "was there / appeared" verb phrase from a pest answer.
func CleanPestName(raw string) string {
	if cleaned := strings.TrimSpace(pestVerbRE.ReplaceAllString(raw, "")); cleaned != "" {
		return cleaned
	}
	return raw
}

func firstInt(text string) (int, bool) {
	m := firstIntRE.FindString(Normalize(text))
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	return n, err == nil
}

// Advice renders the local cultivation advice for the record.
func Advice(s domain.Slots, confidence domain.Confidence) string {
	if confidence == domain.ConfidenceLow {
		return PlaceholderAdvice
	}

	var parts []string
	if s.MaxTemp != nil {
		maxT := *s.MaxTemp
		t := domain.FormatNumber(maxT)
		switch {
		case maxT >= 35:
			parts = append(parts, fmt.Sprintf("【高温警戒】%s℃は暑すぎて葉が働けない温度。遮光ネット50%%を張って、15時すぎたら天窓を全開に。実が焼けないよう葉陰を確保。", t))
		case maxT >= 30:
			parts = append(parts, fmt.Sprintf("【温度管理】%s℃はやや高め。暑いとハウスが乾きやすいから、水やりを普段より1割ほど増やす。午後は遮光して実の温度を下げる。", t))
		case maxT <= 3:
			parts = append(parts, fmt.Sprintf("【凍害警戒】%s℃は枇杷がやられる寒さ。二重カーテン＋暖房機を確認しましょう。花は-3℃、小さい実は-1℃でダメになる。", t))
		case maxT <= 8:
			parts = append(parts, fmt.Sprintf("【低温注意】%s℃。保温資材を点検しましょう。夜の気温に注意。", t))
		default:
			parts = append(parts, fmt.Sprintf("【環境良好】%s℃は枇杷がよく育つ温度帯。このまま続けて大丈夫。", t))
		}
		if s.MinTemp != nil && maxT-*s.MinTemp > 10 {
			parts = append(parts, fmt.Sprintf("昼夜の温度差%s℃。10℃超えると甘くなりやすいけど、結露しやすい。朝イチで換気して結露を飛ばし、灰色かび病を防ぐ。", domain.FormatNumber(maxT-*s.MinTemp)))
		}
	}
	if s.Humidity != nil {
		h := *s.Humidity
		v := domain.FormatNumber(h)
		switch {
		case h < 40:
			parts = append(parts, fmt.Sprintf("【乾燥注意】湿度%s%%。乾燥しすぎると葉が閉じて育ちが悪くなる。ミスト灌水か葉水で湿度60%%以上を目標に。", v))
		case h < 50:
			parts = append(parts, fmt.Sprintf("【湿度低め】%s%%。葉水をすると楽になる。午前中がいい。", v))
		case h > 90:
			parts = append(parts, fmt.Sprintf("【過湿警戒】湿度%s%%。灰色かびやすす病が出やすい。扇風機と天窓で80%%以下まで下げる。", v))
		case h > 85:
			parts = append(parts, fmt.Sprintf("【湿度高め】%s%%。カビが出やすい条件。換気を強めて、通路の草を刈って風通しを良くする。", v))
		}
	}
	fertilizer := meaningful(s.Fertilizer)
	if fertilizer {
		parts = append(parts, fmt.Sprintf("【施肥管理】%sを記録。根に届くまで3〜5日、葉の色に出るまで7〜10日。肥料のやりすぎに注意しましょう。根っこが傷みます。", s.Fertilizer))
	}
	pest := meaningful(s.PestStatus)
	if pest {
		name := CleanPestName(s.PestStatus)
		switch {
		case strings.Contains(name, "カイガラムシ"):
			parts = append(parts, fmt.Sprintf("【病害虫】%sを確認。マシン油乳剤95%%の散布（発生初期）が有効。放置すると排泄物によるすす病を併発し、商品価値が著しく低下。経済被害は1樹あたり収量20〜30%%減の可能性。", name))
		case strings.Contains(name, "うどんこ"):
			parts = append(parts, fmt.Sprintf("【病害虫】%sを確認。トリフミン水和剤またはカリグリーンの散布しましょう。風通しをよくすると再発しにくい。", name))
		case strings.Contains(name, "アブラムシ"):
			parts = append(parts, fmt.Sprintf("【病害虫】%sを確認。モスピラン水溶剤の散布が有効。天敵（テントウムシ）の活用も検討。ウイルス媒介リスクがあるため早めに防除しましょう。", name))
		default:
			parts = append(parts, fmt.Sprintf("【病害虫】%sを確認。拡大前の早期防除が経済的損失を最小化。被害面積を記録し、次の散布計画を考えましょう。", name))
		}
	}
	harvest := meaningful(s.HarvestAmount)
	if harvest {
		if qty, ok := firstInt(s.HarvestAmount); ok {
			parts = append(parts, fmt.Sprintf("【収穫】%sを記録。収穫後は礼肥（お礼の肥料）を検討。粒を揃えて、いいタイミングで出すと値段が変わる。", s.HarvestAmount))
			if qty >= 50 {
				parts = append(parts, "たくさん穫れたぶん、木への負担が大きい。来年の花が減る可能性があるから、秋の肥料を早めに計画。")
			}
		}
	}
	if len(parts) == 0 {
		return PlaceholderAdvice
	}

	work := s.WorkLog
	if !meaningful(work) {
		work = "管理作業"
	}
	reason := "日々の管理"
	if s.MaxTemp != nil || s.Humidity != nil {
		reason = "環境モニタリング"
	}
	if fertilizer {
		reason = "土壌管理"
	}
	if pest {
		reason = "早期防除"
	}
	if harvest {
		reason = "収量管理"
	}

	var actions []string
	if s.MaxTemp != nil && *s.MaxTemp >= 30 {
		actions = append(actions, "遮光ネットの確認と灌水量の調整")
	}
	if s.MaxTemp != nil && *s.MaxTemp <= 8 {
		actions = append(actions, "保温資材と暖房機の点検")
	}
	if s.Humidity != nil && *s.Humidity > 85 {
		actions = append(actions, "換気扇の稼働確認と天窓開度の調整")
	}
	if s.Humidity != nil && *s.Humidity < 50 {
		actions = append(actions, "葉水の実施（午前中推奨）")
	}
	if fertilizer {
		actions = append(actions, "施肥後3〜5日で葉色変化を観察")
	}
	if pest {
		actions = append(actions, CleanPestName(s.PestStatus)+"の経過観察と防除記録の更新")
	}
	if harvest {
		actions = append(actions, "樹勢回復に礼肥を考えましょう")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "今日の%sは%sの観点から価値の高い作業です。\n\n", work, reason)
	b.WriteString(strings.Join(parts, "\n"))
	if len(actions) > 0 {
		b.WriteString("\n\n" + actionsHeader + "\n")
		b.WriteString(strings.Join(lo.Map(actions, func(a string, _ int) string { return "・" + a }), "\n"))
	}
	b.WriteString("\n\n" + referencesHeader + "\n")
	b.WriteString(strings.Join(referenceLinks, "\n"))
	return b.String()
}

// StrategicAdvice renders the short forward-looking lines. Lines repeating another line, or
// contained in one, are dropped.
func StrategicAdvice(s domain.Slots) string {
	var lines []string
	if s.MaxTemp != nil {
		switch t := *s.MaxTemp; {
		case t >= 35:
			lines = append(lines, "【緊急】遮光ネットを張る・天窓全開で換気・葉水をすぐやる")
		case t >= 30:
			lines = append(lines, nextPrefix+"遮光ネット50%を確認、水やり1割増し、午後は換気を強める")
		case t <= 3:
			lines = append(lines, "【緊急】二重カーテン確認・暖房をつける・霜対策")
		case t <= 8:
			lines = append(lines, nextPrefix+"保温資材を点検、夜の気温をよく見る")
		}
	}
	if s.Humidity != nil {
		if *s.Humidity < 50 {
			lines = append(lines, nextPrefix+"午前中に葉水をして、湿度60%以上をキープ")
		}
		if *s.Humidity > 85 {
			lines = append(lines, nextPrefix+"扇風機が動いてるか確認、天窓を調整して80%以下に")
		}
	}
	if meaningful(s.PestStatus) {
		lines = append(lines, nextPrefix+CleanPestName(s.PestStatus)+"の様子を最優先で見る、防除記録を更新")
	}
	if meaningful(s.Fertilizer) {
		lines = append(lines, nextPrefix+"肥料をやって3〜5日で葉の色をチェック")
	}
	if meaningful(s.HarvestAmount) {
		lines = append(lines, nextPrefix+"礼肥を検討、来年の花への影響も考える")
	}
	if meaningful(s.MaterialCost) {
		if n, ok := firstInt(s.MaterialCost); ok && n >= 10000 {
			lines = append(lines, fmt.Sprintf("経営注記: 資材費%s、月の予算と合ってるか確認しましょう", s.MaterialCost))
		}
	}
	lines = dedupeLines(lines)
	if len(lines) == 0 {
		return PlaceholderStrategy
	}
	return strings.Join(lines, "\n")
}

func dedupeLines(lines []string) []string {
	lines = lo.Uniq(lines)
	return lo.Filter(lines, func(line string, i int) bool {
		for j, other := range lines {
			if j != i && len(other) > len(line) && strings.Contains(other, line) {
				return false
			}
		}
		return true
	})
}

// NextActions splits the action list out of Advice and adds the "次回:" lines of the strategic
// text, deduplicated. analysis is the advice body before the action list.
func NextActions(advice, strategic string) (analysis string, actions []string) {
	analysis = advice
	if idx := strings.Index(advice, actionsHeader); idx >= 0 {
		analysis = strings.TrimRight(advice[:idx], "\n ")
		for _, line := range strings.Split(advice[idx:], "\n")[1:] {
			t := strings.TrimSpace(strings.TrimPrefix(line, "・"))
			if t == "" || strings.HasPrefix(t, referencesHeader) {
				break
			}
			actions = append(actions, t)
		}
	}
	for _, line := range strings.Split(strategic, "\n") {
		if nextPrefixRE.MatchString(line) {
			actions = append(actions, nextPrefixRE.ReplaceAllString(line, ""))
		}
	}
	return analysis, lo.Uniq(actions)
}
