package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation 外部模型客户端维护的对话句柄，核心只负责创建和转发，
// 不关心其内部结构
type Conversation interface {
	Provider() string
}

type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// InvoiceImage 当前上传的发票/报价单图片，归属于所在会话
type InvoiceImage struct {
	FileName string `json:"file_name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type Session struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Messages      []Message     `json:"messages"`
	Image         *InvoiceImage `json:"image,omitempty"`
	ImageAnalyzed bool          `json:"image_analyzed"`
	Conversation  Conversation  `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// HasAssistantMessage 判断转录中是否已有助手消息
func (s *Session) HasAssistantMessage() bool {
	for _, m := range s.Messages {
		if m.Role == RoleAssistant {
			return true
		}
	}
	return false
}
