package interview

import (
	"fmt"
	"regexp"
	"strings"

	"agrivoice/internal/domain"
	"agrivoice/internal/slots"
)

var questionPools = map[domain.FollowUpStep][]string{
	domain.StepWork:       {"今日の主な作業は何ですか？", "今日はどんな作業をしましたか？"},
	domain.StepHouseTemp:  {"ハウスの温度は？（最高・最低も）", "ハウスの温度を教えてください。最高と最低も。"},
	domain.StepFertilizer: {"肥料は使いましたか？", "今日は肥料をまきましたか？"},
	domain.StepPest:       {"病害虫はいましたか？", "虫や病気は見つかりましたか？"},
	domain.StepHarvest:    {"収穫はしましたか？", "今日の収穫はどれくらいでしたか？"},
	domain.StepCost:       {"資材や燃料費はかかりましたか？", "資材や燃料に、お金はかかりましたか？"},
	domain.StepDuration:   {"作業時間はどれくらいですか？", "何時間くらい作業しましたか？"},
	domain.StepPhoto:      {"写真は撮りますか？", "写真を残しますか？"},
}

var stepOrder = map[domain.FollowUpStep]int{
	domain.StepWork: 0, domain.StepHouseTemp: 1, domain.StepFertilizer: 2, domain.StepPest: 3,
	domain.StepHarvest: 4, domain.StepCost: 5, domain.StepDuration: 6, domain.StepPhoto: 7,
}

const (
	skipHint  = "　なければ「次へ」。"
	photoHint = "　「次へ」でとばせます。"

	completionAck = "ありがとうございます。内容を確認してください。"
	savedLine     = "きょうもおつかれさま！記録を保存しました。"
	sheetReady    = "相談シートを用意しました。コピーして使ってください。"
	emptyScan     = "読み取れるデータがありませんでした。もう一度試してください。"
)

// question returns the phrasing for step that differs from the one used last time, and the
// updated rotation.
func question(step domain.FollowUpStep, asked [8]int) (string, [8]int) {
	pool := questionPools[step]
	slot := stepOrder[step]
	text := pool[asked[slot]%len(pool)]
	asked[slot]++
	return text, asked
}

func spokenQuestion(step domain.FollowUpStep, text string) string {
	if step == domain.StepPhoto {
		return text + photoHint
	}
	return text + skipHint
}

func openingPrompt(last *domain.LastSession) string {
	if last != nil && last.Work != "" {
		location := last.Location
		if location == "" {
			location = slots.DefaultLocation
		}
		return fmt.Sprintf("おつかれさまです。前回は%sで%sでしたね。今日はどんな作業をしましたか？", location, last.Work)
	}
	return "おつかれさまです。今日はどんな作業をしましたか？"
}

var yesRE = regexp.MustCompile(`^(はい|うん|ええ|お願い|おねがい|頼む|たのむ|相談する|そうする)`)

// mentorReply interprets an answer to the escalation question.
func mentorReply(text string) (yes bool, ok bool) {
	t := strings.TrimSpace(slots.Normalize(text))
	switch {
	case yesRE.MatchString(t):
		return true, true
	case slots.IsNegative(t) || strings.HasPrefix(t, "いや") || strings.HasPrefix(t, "だいじょうぶ") || strings.HasPrefix(t, "大丈夫"):
		return false, true
	default:
		return false, false
	}
}
