package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agrivoice/internal/domain"
)

const adminLogRules = `あなたは営農日誌の清書係です。
体言止め・箇条書きで、事実だけを簡潔に書くこと。話し言葉や方言は標準的な農業用語に直すこと。
フィールドにない情報を足してはならない。`

// WriteAdminLog turns the labeled review rows into a polished diary entry.
func (c *Client) WriteAdminLog(ctx context.Context, items []domain.ConfirmItem) (string, error) {
	var fields []string
	for _, it := range items {
		if v := strings.TrimSpace(it.Value); v != "" {
			fields = append(fields, it.Label+": "+v)
		}
	}
	if len(fields) == 0 {
		return "", errors.New("no fields to write an admin log from")
	}
	prompt := adminLogRules + "\n\n以下のフィールドから営農日誌(admin_log)を生成せよ。\n\n【フィールド】\n" +
		strings.Join(fields, "\n") +
		"\n\n【出力JSON】\n{ \"admin_log\": \"体言止め・箇条書きの営農日誌テキスト\" }"

	var answer struct {
		AdminLog string `json:"admin_log"`
	}
	if err := c.generate(ctx, &answer, textPart(prompt)); err != nil {
		return "", fmt.Errorf("failed to write admin log: %w", err)
	}
	text := strings.TrimSpace(answer.AdminLog)
	if text == "" {
		return "", errors.New("gemini returned an empty admin log")
	}
	return text, nil
}
