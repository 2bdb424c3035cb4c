package gemini

import (
	"context"
	"fmt"
	"strings"

	"agrivoice/internal/domain"
	"agrivoice/internal/imageprep"
	"agrivoice/internal/ports"
)

const ocrPrompt = `あなたは営農日誌のOCRアシスタントです。画像に含まれる手書きまたは印刷されたテキストを読み取り、JSONで返してください。
読み取れない部分はnullとし、推測は禁止です。
{
  "raw_text": "画像内の全テキスト",
  "slots": {"work_log": "", "fertilizer": "", "material_cost": "", "harvest_amount": "", "work_duration": "", "date": "YYYY-MM-DD"}
}`

type ocrAnswer struct {
	RawText string `json:"raw_text"`
	Slots   struct {
		WorkLog       *string `json:"work_log"`
		Fertilizer    *string `json:"fertilizer"`
		MaterialCost  *string `json:"material_cost"`
		HarvestAmount *string `json:"harvest_amount"`
		WorkDuration  *string `json:"work_duration"`
		Date          *string `json:"date"`
	} `json:"slots"`
}

// Scan reads a photographed diary page. The photo is downscaled before upload.
func (c *Client) Scan(ctx context.Context, image []byte, mimeType string) (ports.OCRResult, error) {
	prepared, mime, err := imageprep.Prepare(image, mimeType, imageprep.Options{MaxEdge: c.cfg.MaxImageEdge})
	if err != nil {
		return ports.OCRResult{}, fmt.Errorf("failed to prepare photo: %w", err)
	}
	var answer ocrAnswer
	if err := c.generate(ctx, &answer, imagePart(prepared, mime), textPart(ocrPrompt)); err != nil {
		return ports.OCRResult{}, fmt.Errorf("failed to scan photo: %w", err)
	}

	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return strings.TrimSpace(*p)
	}
	return ports.OCRResult{
		RawText: strings.TrimSpace(answer.RawText),
		Date:    deref(answer.Slots.Date),
		Slots: domain.Slots{
			WorkLog:       deref(answer.Slots.WorkLog),
			Fertilizer:    deref(answer.Slots.Fertilizer),
			MaterialCost:  deref(answer.Slots.MaterialCost),
			HarvestAmount: deref(answer.Slots.HarvestAmount),
			WorkDuration:  deref(answer.Slots.WorkDuration),
		},
	}, nil
}
