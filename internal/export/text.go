package export

import (
	"fmt"
	"strings"

	"invoscan-backend/internal/model"
)

// TextExporter 纯文本转录："ROLE: content"，消息之间空一行，保持到达顺序
type TextExporter struct{}

func (e *TextExporter) Render(messages []model.Message) ([]byte, error) {
	var sb strings.Builder
	for i, msg := range messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s: %s", strings.ToUpper(msg.Role), msg.Content)
	}
	return []byte(sb.String()), nil
}

func (e *TextExporter) ContentType() string {
	return "text/plain"
}

func (e *TextExporter) FileName() string {
	return "invoice_analysis.txt"
}
