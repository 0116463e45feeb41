package utils

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

var ErrUnsupportedImage = errors.New("unsupported image format")

// SniffImageMIME 按魔数识别 PNG/JPEG，其他格式一律拒绝
func SniffImageMIME(b []byte) string {
	// JPEG: FF D8
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return "image/jpeg"
	}
	// PNG
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return "image/png"
	}
	return ""
}

// ValidateInvoiceImage 在任何模型调用之前校验上传字节流确实是一张可解码的图片
func ValidateInvoiceImage(data []byte) (mime string, width, height int, err error) {
	mime = SniffImageMIME(data)
	if mime == "" {
		return "", 0, 0, fmt.Errorf("%w: expected PNG or JPEG", ErrUnsupportedImage)
	}

	cfg, _, decodeErr := image.DecodeConfig(bytes.NewReader(data))
	if decodeErr != nil {
		return "", 0, 0, fmt.Errorf("%w: %v", ErrUnsupportedImage, decodeErr)
	}

	return mime, cfg.Width, cfg.Height, nil
}

// MakeDataURL 组装 data:URI，供 OpenAI vision 消息使用
func MakeDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
