package slots

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Longer answers are treated as compound sentences that carry data even when they end in a
// negative form ("カイガラムシが出ていたけど薬をやっていない").
const shortAnswerRunes = 15

var negativeExact = map[string]bool{
	"なし": true, "ない": true, "いない": true, "大丈夫": true, "問題ない": true, "異常なし": true,
	"特になし": true, "特にない": true, "とくにない": true, "とくになし": true, "特にありません": true,
	"ありません": true, "なかった": true, "なかったです": true, "いなかった": true, "いなかったです": true,
	"ありませんでした": true, "使いませんでした": true, "やりませんでした": true, "していません": true,
	"やっていません": true, "いいえ": true, "いえ": true, "スキップ": true, "パス": true,
	"次へ": true, "つぎへ": true, "no": true, "none": true, "skip": true,
}

var negativeSuffixRE = regexp.MustCompile(`(ません(でした)?|てない|ていない|やってない|してない|していない|` +
	`なかった(です)?|いなかった(です)?|ありません(でした)?|使わなかった(です)?|使いません(でした)?|` +
	`かかりません(でした)?|かからなかった(です)?|やりません(でした)?|やらなかった(です)?|` +
	`あげてない|あげていない|出てない|出ていない|なさそう(です)?|(は|も|が)(ない|なし|いない)|なし)$`)

var skipPrefixRE = regexp.MustCompile(`^(スキップ|パス|次へ|つぎへ|いいえ|特になし|とくになし|特にない|とくにない)`)

var answerTrim = "。．.、,!！?？ 　"

// trimAnswer strips surrounding whitespace and sentence punctuation.
func trimAnswer(text string) string {
	return strings.Trim(strings.TrimSpace(text), answerTrim)
}

// IsNegative reports whether text is an explicit "none / didn't / skip" utterance.
// Exact phrases always count; suffix and skip-word forms only count for short answers.
func IsNegative(text string) bool {
	t := trimAnswer(text)
	if t == "" {
		return false
	}
	if negativeExact[strings.ToLower(t)] {
		return true
	}
	if utf8.RuneCountInString(t) > shortAnswerRunes {
		return false
	}
	return negativeSuffixRE.MatchString(t) || skipPrefixRE.MatchString(t)
}

// NoAnswer reports whether an answer carries no data: empty or negative.
func NoAnswer(text string) bool {
	return trimAnswer(text) == "" || IsNegative(text)
}

// meaningful reports whether a text slot holds real data.
func meaningful(value string) bool {
	return strings.TrimSpace(value) != "" && !IsNegative(value)
}
