// Package slots holds the deterministic extraction, classification and text generators used
// when the AI path is degraded and to seed the review screen.
package slots

import (
	_ "embed"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"agrivoice/internal/domain"
	"agrivoice/internal/ruletable"
)

//go:embed extract.yaml
var extractRules []byte

//go:embed steps.yaml
var stepRules []byte

var (
	extractTable = ruletable.MustParse("extract.yaml", extractRules)
	stepTable    = ruletable.MustParse("steps.yaml", stepRules)
)

var (
	tempRE       = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*(?:度|℃)`)
	humidityRE   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:%|パーセント)`)
	bagRE        = regexp.MustCompile(`\d+\s*袋`)
	fertAmountRE = regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s*(?:kg|キロ|グラム|g)`)
	fertilizerRE = regexp.MustCompile(`肥料|施肥|硫安|尿素|有機|化成|石灰`)
	harvestQtyRE = regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s*(?:kg|キロ|個|箱|パック)`)
	harvestRE    = regexp.MustCompile(`収穫|とれ|採れ|穫`)
	yenRE        = regexp.MustCompile(`\d+\s*(?:円|えん)`)
	fuelRE       = regexp.MustCompile(`燃料|ガソリン|軽油|灯油`)
	fuelAmountRE = regexp.MustCompile(`(?:燃料|ガソリン|軽油|灯油)[代費]?\s*\d+\s*円`)
	durationRE   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:時間|じかん)`)
	bareNumberRE = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)
)

// Normalize folds full-width digits and latin letters so numeric patterns match.
func Normalize(text string) string {
	return strings.TrimSpace(width.Fold.String(text))
}

// ParseTemperatures returns every in-range temperature mentioned in text, in order.
func ParseTemperatures(text string) []float64 {
	var temps []float64
	for _, m := range tempRE.FindAllStringSubmatch(Normalize(text), -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || !domain.ValidTemp(v) {
			continue
		}
		temps = append(temps, v)
	}
	return temps
}

// ApplyTemperatures stores max/min from the extracted set: two or more values give
// max and min, a single value is the maximum. Reports whether anything was stored.
func ApplyTemperatures(s *domain.Slots, text string, overwrite bool) bool {
	temps := ParseTemperatures(text)
	switch {
	case len(temps) >= 2:
		s.SetMaxTemp(slices.Max(temps))
		s.SetMinTemp(slices.Min(temps))
		return true
	case len(temps) == 1:
		if s.MaxTemp != nil && !overwrite {
			return false
		}
		return s.SetMaxTemp(temps[0])
	default:
		return false
	}
}

// ApplyHumidity stores the first humidity percentage in text when in range.
func ApplyHumidity(s *domain.Slots, text string) bool {
	m := humidityRE.FindStringSubmatch(Normalize(text))
	if m == nil {
		return false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return false
	}
	return s.SetHumidity(v)
}

// Extract runs the local keyword extractor over the narration and prior turns, overlaying
// what it finds on prior.
func Extract(text string, history []string, prior domain.Slots) domain.Slots {
	all := Normalize(strings.Join(append(slices.Clone(history), text), " "))
	out := prior.Clone()

	ApplyTemperatures(&out, all, false)
	ApplyHumidity(&out, all)

	if labels := extractTable.Labels("work", all); len(labels) > 0 {
		out.WorkLog = strings.Join(labels, "・")
		if bag := bagRE.FindString(all); bag != "" {
			out.WorkLog += "（" + bag + "）"
		}
	}

	if labels := extractTable.Labels("plant", all); len(labels) > 0 {
		out.PlantStatus = labels[0]
	}

	if fertilizerRE.MatchString(all) {
		names := extractTable.Labels("fertilizer", all)
		fert := "肥料"
		if len(names) > 0 {
			fert = strings.Join(names, "・")
		}
		if amount := fertAmountRE.FindString(all); amount != "" {
			fert += " " + amount
		}
		out.Fertilizer = fert
	}

	if labels := extractTable.Labels("pest", all); len(labels) > 0 {
		out.PestStatus = labels[0]
	}

	if qty := harvestQtyRE.FindString(all); qty != "" && harvestRE.MatchString(all) {
		out.HarvestAmount = qty
	}

	fuelSpan := fuelAmountRE.FindStringIndex(all)
	for _, span := range yenRE.FindAllStringIndex(all, -1) {
		if fuelSpan != nil && span[0] >= fuelSpan[0] && span[1] <= fuelSpan[1] {
			continue
		}
		out.MaterialCost = all[span[0]:span[1]]
		break
	}

	if d := durationRE.FindString(all); d != "" {
		out.WorkDuration = d
	}

	if fuelRE.MatchString(all) {
		if fuelSpan != nil {
			out.FuelCost = all[fuelSpan[0]:fuelSpan[1]]
		} else {
			out.FuelCost = "燃料費あり"
		}
	}

	return out
}

// LocalReply is the spoken acknowledgment when extraction ran locally.
func LocalReply(s domain.Slots) string {
	var parts []string
	if s.MaxTemp != nil {
		parts = append(parts, fmt.Sprintf("気温%s℃", domain.FormatNumber(*s.MaxTemp)))
	}
	if s.Humidity != nil {
		parts = append(parts, fmt.Sprintf("湿度%s%%", domain.FormatNumber(*s.Humidity)))
	}
	if s.WorkLog != "" {
		parts = append(parts, s.WorkLog)
	}
	if s.Fertilizer != "" {
		parts = append(parts, "施肥: "+s.Fertilizer)
	}
	if s.HarvestAmount != "" {
		parts = append(parts, "収穫: "+s.HarvestAmount)
	}
	if s.WorkDuration != "" {
		parts = append(parts, "作業時間: "+s.WorkDuration)
	}
	if len(parts) == 0 {
		return "お疲れさまです。記録しました。"
	}
	return "お疲れさまです。" + strings.Join(parts, "、") + "で記録しました。"
}

// DurationHours returns the hours mentioned in a work-duration slot.
func DurationHours(s domain.Slots) (float64, bool) {
	m := durationRE.FindStringSubmatch(Normalize(s.WorkDuration))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
