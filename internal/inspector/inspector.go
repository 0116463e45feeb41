package inspector

import (
	"context"
	"errors"
	"log"

	"invoscan-backend/internal/config"
	"invoscan-backend/internal/model"
)

var (
	// ErrMissingAPIKey 凭证缺失：Inspector 本身可以无凭证构造，
	// 但所有发送类调用都会以这个错误失败
	ErrMissingAPIKey = errors.New("api key is missing")
	// ErrEmptyResponse 模型返回了空文本
	ErrEmptyResponse = errors.New("model returned empty response")
	// ErrWrongConversation 对话句柄不是当前提供方创建的
	ErrWrongConversation = errors.New("conversation does not belong to this inspector")
)

// Inspector 是多模态模型客户端的门面：开启对话、分析发票图片、追问。
// 调用阻塞到模型回复或失败，不重试、不流式、不支持取消。
type Inspector interface {
	StartChat(ctx context.Context) (model.Conversation, error)
	AnalyzeImage(ctx context.Context, conv model.Conversation, data []byte, mimeType string) (string, error)
	SendMessage(ctx context.Context, conv model.Conversation, text string) (string, error)
}

// New 按配置选择提供方
func New(cfg *config.Config) Inspector {
	switch cfg.Model.Provider {
	case "gemini":
		return NewGeminiInspector(cfg.Gemini)
	case "openai":
		return NewOpenAIInspector(cfg.OpenAI)
	default:
		log.Fatalf("Unsupported model provider: %s", cfg.Model.Provider)
		return nil
	}
}
