package inspector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"invoscan-backend/internal/config"
	"invoscan-backend/internal/model"
	"invoscan-backend/internal/utils"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIInspector 基于 go-openai 的实现。OpenAI 没有服务端会话，
// 对话句柄就是本地累积的轮次历史，每次发送都携带全量历史
type OpenAIInspector struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float32
	client      *openai.Client
}

type openaiConversation struct {
	mu      sync.Mutex
	history []openai.ChatCompletionMessage
}

func (c *openaiConversation) Provider() string { return "openai" }

func NewOpenAIInspector(cfg config.OpenAIConfig) *OpenAIInspector {
	clientConfig := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = utils.NewHTTPClient(cfg.Timeout)

	m := cfg.Model
	if m == "" {
		m = "gpt-4o-mini"
	}

	return &OpenAIInspector{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       m,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      openai.NewClientWithConfig(clientConfig),
	}
}

// StartChat 本地句柄，不需要网络
func (o *OpenAIInspector) StartChat(ctx context.Context) (model.Conversation, error) {
	return &openaiConversation{}, nil
}

func (o *OpenAIInspector) AnalyzeImage(ctx context.Context, conv model.Conversation, data []byte, mimeType string) (string, error) {
	oc, err := o.conversationOf(conv)
	if err != nil {
		return "", err
	}

	userMsg := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeText,
				Text: analysisInstruction,
			},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    utils.MakeDataURL(mimeType, data),
					Detail: openai.ImageURLDetailAuto,
				},
			},
		},
	}

	return o.exchange(ctx, oc, userMsg)
}

func (o *OpenAIInspector) SendMessage(ctx context.Context, conv model.Conversation, text string) (string, error) {
	oc, err := o.conversationOf(conv)
	if err != nil {
		return "", err
	}

	return o.exchange(ctx, oc, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
}

// exchange 发送一轮并把 user/assistant 两条消息提交进历史；
// 失败时历史保持不变
func (o *OpenAIInspector) exchange(ctx context.Context, oc *openaiConversation, userMsg openai.ChatCompletionMessage) (string, error) {
	if o.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	oc.mu.Lock()
	defer oc.mu.Unlock()

	messages := make([]openai.ChatCompletionMessage, 0, len(oc.history)+1)
	messages = append(messages, oc.history...)
	messages = append(messages, userMsg)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	reply := resp.Choices[0].Message.Content
	if reply == "" {
		return "", ErrEmptyResponse
	}

	oc.history = append(oc.history, userMsg, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: reply,
	})

	return reply, nil
}

func (o *OpenAIInspector) conversationOf(conv model.Conversation) (*openaiConversation, error) {
	oc, ok := conv.(*openaiConversation)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrWrongConversation, conv)
	}
	return oc, nil
}
