package gemini

import (
	"context"
	"fmt"
	"strings"

	"agrivoice/internal/domain"
	"agrivoice/internal/ports"
)

const extractionRole = `あなたは果樹・施設園芸農家の営農日誌を聞き取るアシスタントです。
農家の話し言葉から作業記録を抽出し、必ずJSONのみで答えてください。
話されていない項目は推測せず、省略するかnullにしてください。
気温は-20〜60℃、湿度は0〜100%の範囲外なら捨ててください。`

const extractionSchema = `【出力JSON】
{
  "reply": "農家へのひとこと返事（短く、ねぎらいを込めて）",
  "house_data": {"max_temp": 数値|null, "min_temp": 数値|null, "humidity": 数値|null} | null,
  "work_log": "作業内容", "plant_status": "樹の状態", "fertilizer": "肥料",
  "pest_status": "病害虫", "harvest_amount": "収穫量", "material_cost": "資材費",
  "work_duration": "作業時間", "fuel_cost": "燃料費",
  "location": "話に出た場所名（既知の場所名に合わせる）",
  "new_location": "既知でない新しい場所名",
  "missing_questions": ["WORK"|"HOUSE_TEMP"|"FERTILIZER"|"PEST"|"HARVEST"|"COST"|"DURATION"],
  "confidence": "low"|"medium"|"high",
  "mentor_mode": 強い疲れや絶望を話していればtrue,
  "advice": "一言アドバイス", "strategic_advice": "次回: で始まる提案"
}`

type houseData struct {
	MaxTemp  *float64 `json:"max_temp"`
	MinTemp  *float64 `json:"min_temp"`
	Humidity *float64 `json:"humidity"`
}

type extractionAnswer struct {
	Reply            string     `json:"reply"`
	HouseData        *houseData `json:"house_data"`
	WorkLog          string     `json:"work_log"`
	PlantStatus      string     `json:"plant_status"`
	Fertilizer       string     `json:"fertilizer"`
	PestStatus       string     `json:"pest_status"`
	HarvestAmount    string     `json:"harvest_amount"`
	MaterialCost     string     `json:"material_cost"`
	WorkDuration     string     `json:"work_duration"`
	FuelCost         string     `json:"fuel_cost"`
	Location         string     `json:"location"`
	NewLocation      string     `json:"new_location"`
	MissingQuestions *[]string  `json:"missing_questions"`
	Confidence       string     `json:"confidence"`
	MentorMode       bool       `json:"mentor_mode"`
	Advice           string     `json:"advice"`
	StrategicAdvice  string     `json:"strategic_advice"`
}

// Extract asks the model for slots and missing question categories. A missing
// missing_questions key yields a nil slice so the caller falls back to its own queue.
func (c *Client) Extract(ctx context.Context, req ports.ExtractionRequest) (ports.ExtractionResponse, error) {
	var answer extractionAnswer
	if err := c.generate(ctx, &answer, textPart(extractionPrompt(req))); err != nil {
		return ports.ExtractionResponse{}, fmt.Errorf("failed to extract slots: %w", err)
	}
	return answer.response(), nil
}

func (a extractionAnswer) response() ports.ExtractionResponse {
	var s domain.Slots
	if a.HouseData != nil {
		if a.HouseData.MaxTemp != nil {
			s.SetMaxTemp(*a.HouseData.MaxTemp)
		}
		if a.HouseData.MinTemp != nil {
			s.SetMinTemp(*a.HouseData.MinTemp)
		}
		if a.HouseData.Humidity != nil {
			s.SetHumidity(*a.HouseData.Humidity)
		}
	}
	s.Merge(domain.Slots{
		WorkLog:       a.WorkLog,
		PlantStatus:   a.PlantStatus,
		Fertilizer:    a.Fertilizer,
		PestStatus:    dropNone(a.PestStatus),
		HarvestAmount: a.HarvestAmount,
		MaterialCost:  a.MaterialCost,
		WorkDuration:  a.WorkDuration,
		FuelCost:      a.FuelCost,
		Location:      a.Location,
	})

	resp := ports.ExtractionResponse{
		Reply:           strings.TrimSpace(a.Reply),
		Slots:           s,
		NewLocation:     strings.TrimSpace(a.NewLocation),
		MentorMode:      a.MentorMode,
		Advice:          strings.TrimSpace(a.Advice),
		StrategicAdvice: strings.TrimSpace(a.StrategicAdvice),
	}
	switch domain.Confidence(strings.ToLower(strings.TrimSpace(a.Confidence))) {
	case domain.ConfidenceLow:
		resp.Confidence = domain.ConfidenceLow
	case domain.ConfidenceMedium:
		resp.Confidence = domain.ConfidenceMedium
	case domain.ConfidenceHigh:
		resp.Confidence = domain.ConfidenceHigh
	}
	if a.MissingQuestions != nil {
		resp.MissingQuestions = append([]string{}, *a.MissingQuestions...)
	}
	return resp
}

func dropNone(v string) string {
	if strings.TrimSpace(v) == "なし" {
		return ""
	}
	return v
}

func extractionPrompt(req ports.ExtractionRequest) string {
	var b strings.Builder
	b.WriteString(extractionRole)
	b.WriteString("\n\n【既知の場所】\n")
	if len(req.Locations) == 0 {
		b.WriteString("（なし）\n")
	}
	for _, name := range req.Locations {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	if req.Location != "" {
		fmt.Fprintf(&b, "現在の場所: %s\n", req.Location)
	}
	if w := req.Weather; w != nil {
		fmt.Fprintf(&b, "\n【今日の外の天気】%s %.0f℃\n", w.Description, w.Temperature)
	}
	fmt.Fprintf(&b, "\n前回までの抽出結果: %s\n", partialSummary(req.Partial))

	b.WriteString("\n【会話履歴】\n")
	for _, m := range req.History {
		who := "AI"
		if m.Role == "user" {
			who = "ユーザー"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, m.Text)
	}
	fmt.Fprintf(&b, "\n【今回のユーザー入力（原文）】\n%q\n", req.Utterance)
	if req.Corrected != "" && req.Corrected != req.Utterance {
		fmt.Fprintf(&b, "\n【用語補正済み入力】\n%q\n", req.Corrected)
	}
	b.WriteString("\n")
	b.WriteString(extractionSchema)
	return b.String()
}

func partialSummary(s domain.Slots) string {
	var fields []string
	add := func(label, v string) {
		if v != "" {
			fields = append(fields, label+"="+v)
		}
	}
	if s.MaxTemp != nil {
		add("max_temp", fmt.Sprintf("%g", *s.MaxTemp))
	}
	if s.MinTemp != nil {
		add("min_temp", fmt.Sprintf("%g", *s.MinTemp))
	}
	if s.Humidity != nil {
		add("humidity", fmt.Sprintf("%g", *s.Humidity))
	}
	add("work_log", s.WorkLog)
	add("fertilizer", s.Fertilizer)
	add("pest_status", s.PestStatus)
	add("harvest_amount", s.HarvestAmount)
	add("material_cost", s.MaterialCost)
	add("work_duration", s.WorkDuration)
	add("fuel_cost", s.FuelCost)
	if len(fields) == 0 {
		return "{}"
	}
	return "{" + strings.Join(fields, ", ") + "}"
}
