package slots

import (
	"fmt"
	"regexp"
	"strconv"

	"agrivoice/internal/domain"
)

// PricePerKg is the flat loquat price used for the profit preview.
const PricePerKg = 800

// LongDurationHours is the work length that triggers the rest prompt.
const LongDurationHours = 4

// RestPrompt is spoken on entering review after a long work day.
const RestPrompt = "ながい作業、おつかれさま。むりは禁物。15分やすみませんか？"

var kgRE = regexp.MustCompile(`(?i)(\d+)\s*(?:kg|キロ)`)

// Profit is the harvest revenue estimate shown after save.
type Profit struct {
	Total   int
	Details []string
	Praise  string
	Note    string
}

// EstimateProfit prices a harvest given in kilograms. Other units contribute nothing.
func EstimateProfit(s domain.Slots) Profit {
	var p Profit
	if meaningful(s.HarvestAmount) {
		if m := kgRE.FindStringSubmatch(Normalize(s.HarvestAmount)); m != nil {
			kg, err := strconv.Atoi(m[1])
			if err == nil {
				p.Total = kg * PricePerKg
				p.Details = append(p.Details, fmt.Sprintf("収穫 %dkg × %d円/kg = +%s", kg, PricePerKg, formatYen(p.Total)))
			}
		}
	}

	switch {
	case meaningful(s.Fertilizer):
		p.Praise = "施肥作業、お疲れさまです。"
	case meaningful(s.PestStatus):
		p.Praise = "早期対応、的確です。"
	case meaningful(s.HarvestAmount):
		p.Praise = "収穫作業、お疲れさまです。"
	case s.HasHouseData():
		p.Praise = "環境計測、継続できています。"
	default:
		p.Praise = "本日もお疲れさまです。"
	}
	if p.Total > 0 {
		p.Note = fmt.Sprintf("※ 収穫量 × %d円/kg で試算。市場価格により変動します。", PricePerKg)
	}
	return p
}

func formatYen(amount int) string {
	if amount >= 10000 {
		return fmt.Sprintf("%.1f万円", float64(amount)/10000)
	}
	return groupThousands(amount) + "円"
}

func groupThousands(n int) string {
	s := strconv.Itoa(n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

// LongDuration reports whether the recorded work time calls for a rest prompt.
func LongDuration(s domain.Slots) bool {
	h, ok := DurationHours(s)
	return ok && h >= LongDurationHours
}
