package export

import (
	"bytes"
	"strings"

	"invoscan-backend/internal/model"

	"github.com/jung-kurt/gofpdf"
)

const reportTitle = "Construction Invoice/Estimate Analysis Report"

// 页面几何是固定常量：Letter 纸、1 英寸页边距（72pt）
const (
	pageMargin    = 72.0
	bottomMargin  = 18.0
	bodyLineHt    = 14.0
	titleLineHt   = 22.0
	messageGap    = 6.0
	titleGap      = 12.0
	bodyFontSize  = 11.0
	titleFontSize = 18.0
)

// PDFExporter 分页文档：标题块 + 每条消息一个样式块，
// 用户消息蓝色加粗，助手消息黑色常规；长内容靠自动分页
type PDFExporter struct{}

func (e *PDFExporter) Render(messages []model.Message) ([]byte, error) {
	pdf := gofpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, bottomMargin)

	// 核心字体只有 cp1252，超出范围的字符经 translator 降级
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", titleFontSize)
	pdf.SetTextColor(0, 0, 0)
	pdf.MultiCell(0, titleLineHt, tr(reportTitle), "", "C", false)
	pdf.Ln(titleGap)

	for _, msg := range messages {
		if msg.Role == model.RoleUser {
			pdf.SetFont("Helvetica", "B", bodyFontSize)
			pdf.SetTextColor(0, 0, 255)
		} else {
			pdf.SetFont("Helvetica", "", bodyFontSize)
			pdf.SetTextColor(0, 0, 0)
		}

		pdf.MultiCell(0, bodyLineHt, tr(strings.ToUpper(msg.Role)+":"), "", "L", false)
		pdf.MultiCell(0, bodyLineHt, tr(msg.Content), "", "L", false)
		pdf.Ln(messageGap)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *PDFExporter) ContentType() string {
	return "application/pdf"
}

func (e *PDFExporter) FileName() string {
	return "invoice_analysis.pdf"
}
