package export

import (
	"errors"

	"invoscan-backend/internal/model"
)

var ErrUnknownFormat = errors.New("unknown export format")

// Exporter 把有序消息列表序列化成可下载的产物。
// Render 是消息序列的纯函数，不会修改输入。
type Exporter interface {
	Render(messages []model.Message) ([]byte, error)
	ContentType() string
	FileName() string
}

// ForFormat 按格式名返回对应导出器，pdf 和 txt 是同一端口的两种实现
func ForFormat(format string) (Exporter, error) {
	switch format {
	case "pdf":
		return &PDFExporter{}, nil
	case "txt", "text":
		return &TextExporter{}, nil
	default:
		return nil, ErrUnknownFormat
	}
}
