package slots

import (
	"fmt"
	"strconv"
	"strings"

	"agrivoice/internal/domain"
)

// AdminLog renders the deterministic administrative log. date is YYYY-MM-DD.
func AdminLog(s domain.Slots, location, date string) string {
	lines := []string{"【日付】" + date}
	if location != "" {
		lines = append(lines, "【圃場】"+location)
	}
	if s.MaxTemp != nil || s.MinTemp != nil || s.Humidity != nil {
		lines = append(lines, fmt.Sprintf("【ハウス環境】最高%s / 最低%s / 湿度%s",
			formatOptional(s.MaxTemp, "℃"), formatOptional(s.MinTemp, "℃"), formatOptional(s.Humidity, "%")))
	} else {
		lines = append(lines, "【ハウス環境】未計測")
	}
	lines = append(lines, "【作業】"+orDash(s.WorkLog))
	if s.WorkDuration != "" {
		lines = append(lines, "【作業時間】"+s.WorkDuration)
	}
	if meaningful(s.Fertilizer) {
		lines = append(lines, "【施肥】"+s.Fertilizer)
	}
	if meaningful(s.HarvestAmount) {
		lines = append(lines, "【収穫】"+s.HarvestAmount)
	}
	if meaningful(s.MaterialCost) {
		lines = append(lines, "【資材費】"+s.MaterialCost)
	}
	if meaningful(s.FuelCost) {
		lines = append(lines, "【燃料費】"+s.FuelCost)
	}
	pest := "なし"
	if meaningful(s.PestStatus) {
		pest = s.PestStatus
	}
	lines = append(lines, "【病害虫】"+pest)
	remark := "特記事項なし"
	if s.PlantStatus != "" && s.PlantStatus != plantGood {
		remark = s.PlantStatus
	}
	lines = append(lines, "【所見】"+remark)
	lines = append(lines, "【信頼度】"+string(Confidence(s)))
	return strings.Join(lines, "\n")
}

func formatOptional(v *float64, unit string) string {
	if v == nil {
		return "-"
	}
	return domain.FormatNumber(*v) + unit
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

// Review row keys.
const (
	KeyWorkLog       = "work_log"
	KeyMaxTemp       = "max_temp"
	KeyMinTemp       = "min_temp"
	KeyHumidity      = "humidity"
	KeyFertilizer    = "fertilizer"
	KeyPestStatus    = "pest_status"
	KeyHarvestAmount = "harvest_amount"
	KeyMaterialCost  = "material_cost"
	KeyFuelCost      = "fuel_cost"
	KeyWorkDuration  = "work_duration"
	KeyPlantStatus   = "plant_status"
)

// ConfirmItems builds the editable review rows from the collected slots.
func ConfirmItems(s domain.Slots) []domain.ConfirmItem {
	num := func(v *float64, unit string) string {
		if v == nil {
			return ""
		}
		return domain.FormatNumber(*v) + unit
	}
	items := []domain.ConfirmItem{
		{Key: KeyWorkLog, Label: "作業内容", Value: s.WorkLog},
		{Key: KeyMaxTemp, Label: "最高気温", Value: num(s.MaxTemp, "℃")},
		{Key: KeyMinTemp, Label: "最低気温", Value: num(s.MinTemp, "℃")},
		{Key: KeyHumidity, Label: "湿度", Value: num(s.Humidity, "%")},
		{Key: KeyFertilizer, Label: "肥料", Value: s.Fertilizer},
		{Key: KeyPestStatus, Label: "病害虫", Value: s.PestStatus},
		{Key: KeyHarvestAmount, Label: "収穫", Value: s.HarvestAmount},
		{Key: KeyMaterialCost, Label: "資材費", Value: s.MaterialCost},
		{Key: KeyFuelCost, Label: "燃料費", Value: s.FuelCost},
		{Key: KeyWorkDuration, Label: "作業時間", Value: s.WorkDuration},
	}
	if s.PlantStatus != "" && s.PlantStatus != plantGood {
		items = append(items, domain.ConfirmItem{Key: KeyPlantStatus, Label: "所見", Value: s.PlantStatus})
	}
	return items
}

// UpdateItem returns a copy of items with key set to value.
func UpdateItem(items []domain.ConfirmItem, key, value string) []domain.ConfirmItem {
	out := make([]domain.ConfirmItem, len(items))
	copy(out, items)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
		}
	}
	return out
}

// ApplyConfirmItems flattens review rows back onto base. Numeric rows are parsed and range
// checked; an unparsable or out-of-range number clears the field. Location is kept from base.
func ApplyConfirmItems(items []domain.ConfirmItem, base domain.Slots) domain.Slots {
	out := base.Clone()
	for _, item := range items {
		v := strings.TrimSpace(item.Value)
		switch item.Key {
		case KeyWorkLog:
			out.WorkLog = v
		case KeyMaxTemp:
			out.MaxTemp = parseMeasure(v, domain.ValidTemp)
		case KeyMinTemp:
			out.MinTemp = parseMeasure(v, domain.ValidTemp)
		case KeyHumidity:
			out.Humidity = parseMeasure(v, domain.ValidHumidity)
		case KeyFertilizer:
			out.Fertilizer = v
		case KeyPestStatus:
			out.PestStatus = v
		case KeyHarvestAmount:
			out.HarvestAmount = v
		case KeyMaterialCost:
			out.MaterialCost = v
		case KeyFuelCost:
			out.FuelCost = v
		case KeyWorkDuration:
			out.WorkDuration = v
		case KeyPlantStatus:
			out.PlantStatus = v
		}
	}
	return out
}

func parseMeasure(value string, valid func(float64) bool) *float64 {
	v := strings.TrimSpace(strings.TrimRight(Normalize(value), "℃度%パーセント "))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || !valid(f) {
		return nil
	}
	return &f
}
