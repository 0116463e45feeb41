package inspector

import (
	"context"
	"strings"

	"invoscan-backend/internal/config"
	"invoscan-backend/internal/model"
	"invoscan-backend/pkg/logger"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiInspector 基于 Gemini 的实现，对话句柄是 SDK 自己维护的 ChatSession
type GeminiInspector struct {
	apiKey string
	model  string
	client *genai.Client
}

type geminiConversation struct {
	session *genai.ChatSession
}

func (c *geminiConversation) Provider() string { return "gemini" }

func NewGeminiInspector(cfg config.GeminiConfig) *GeminiInspector {
	g := &GeminiInspector{
		apiKey: strings.TrimSpace(cfg.APIKey),
		model:  strings.TrimSpace(cfg.Model),
	}
	if g.model == "" {
		g.model = "gemini-2.0-flash"
	}

	// 无凭证也要能构造，客户端留空，后续调用报凭证错误
	if g.apiKey != "" {
		client, err := genai.NewClient(context.Background(), option.WithAPIKey(g.apiKey))
		if err != nil {
			logger.Errorf("Failed to create Gemini client: %v", err)
		} else {
			g.client = client
		}
	}

	return g
}

func (g *GeminiInspector) StartChat(ctx context.Context) (model.Conversation, error) {
	if g.client == nil {
		return nil, ErrMissingAPIKey
	}

	m := g.client.GenerativeModel(g.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0.2),
	}

	return &geminiConversation{session: m.StartChat()}, nil
}

func (g *GeminiInspector) AnalyzeImage(ctx context.Context, conv model.Conversation, data []byte, mimeType string) (string, error) {
	session, err := g.sessionOf(conv)
	if err != nil {
		return "", err
	}

	resp, err := session.SendMessage(ctx,
		genai.Text(analysisInstruction),
		&genai.Blob{MIMEType: mimeType, Data: data},
	)
	if err != nil {
		return "", err
	}

	txt := firstText(resp)
	if txt == "" {
		return "", ErrEmptyResponse
	}
	return txt, nil
}

func (g *GeminiInspector) SendMessage(ctx context.Context, conv model.Conversation, text string) (string, error) {
	session, err := g.sessionOf(conv)
	if err != nil {
		return "", err
	}

	resp, err := session.SendMessage(ctx, genai.Text(text))
	if err != nil {
		return "", err
	}

	txt := firstText(resp)
	if txt == "" {
		return "", ErrEmptyResponse
	}
	return txt, nil
}

func (g *GeminiInspector) sessionOf(conv model.Conversation) (*genai.ChatSession, error) {
	if g.client == nil {
		return nil, ErrMissingAPIKey
	}
	gc, ok := conv.(*geminiConversation)
	if !ok || gc.session == nil {
		return nil, ErrWrongConversation
	}
	return gc.session, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
