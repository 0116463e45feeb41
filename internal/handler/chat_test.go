package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"invoscan-backend/internal/config"
	"invoscan-backend/internal/model"
	"invoscan-backend/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1x1 RGBA PNG
const tinyPNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(tinyPNGBase64)
	require.NoError(t, err)
	return data
}

type stubConversation struct{}

func (stubConversation) Provider() string { return "stub" }

type stubInspector struct {
	analyzeReply string
	sendReply    string
}

func (s *stubInspector) StartChat(ctx context.Context) (model.Conversation, error) {
	return stubConversation{}, nil
}

func (s *stubInspector) AnalyzeImage(ctx context.Context, conv model.Conversation, data []byte, mimeType string) (string, error) {
	return s.analyzeReply, nil
}

func (s *stubInspector) SendMessage(ctx context.Context, conv model.Conversation, text string) (string, error) {
	return s.sendReply, nil
}

func newTestRouter(insp *stubInspector) (*gin.Engine, *service.ChatService) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Storage: config.StorageConfig{Type: "memory"},
	}
	chatService := service.NewChatService(cfg, insp)
	h := NewChatHandler(chatService, config.UploadConfig{MaxSizeBytes: 10 << 20})

	router := gin.New()
	chat := router.Group("/api/chat")
	{
		chat.POST("/session", h.CreateSession)
		chat.POST("/session/list", h.GetSessionList)
		chat.GET("/session/del/:session_id", h.DeleteSession)
		chat.POST("/session/clear", h.ClearAllSessions)
		chat.GET("/session/:session_id", h.GetSession)
		chat.PUT("/session/:session_id", h.UpdateSessionTitle)
		chat.GET("/messages/:session_id", h.GetMessages)
		chat.POST("/upload", h.UploadImage)
		chat.POST("/analyze", h.Analyze)
		chat.POST("/message", h.SendMessage)
		chat.POST("/reset", h.Reset)
		chat.GET("/export/:session_id", h.Export)
		chat.GET("/usage", h.Usage)
	}

	return router, chatService
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func uploadImage(t *testing.T, router *gin.Engine, sessionID string, image []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if sessionID != "" {
		require.NoError(t, writer.WriteField("session_id", sessionID))
	}
	part, err := writer.CreateFormFile("image", "invoice.png")
	require.NoError(t, err)
	_, err = part.Write(image)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chat/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadCreatesSessionAndValidatesImage(t *testing.T) {
	router, _ := newTestRouter(&stubInspector{})

	w := uploadImage(t, router, "", tinyPNG(t))
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "image/png", resp.MIMEType)
	assert.Equal(t, 1, resp.Width)
	assert.Equal(t, 1, resp.Height)
}

func TestUploadRejectsNonImage(t *testing.T) {
	router, _ := newTestRouter(&stubInspector{})

	w := uploadImage(t, router, "", []byte("this is not an image at all"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeFlow(t *testing.T) {
	router, _ := newTestRouter(&stubInspector{analyzeReply: "cost code report"})

	w := uploadImage(t, router, "", tinyPNG(t))
	require.Equal(t, http.StatusOK, w.Code)
	var up model.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))

	w = doJSON(t, router, http.MethodPost, "/api/chat/analyze", model.AnalyzeRequest{SessionID: up.SessionID})
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, model.RoleAssistant, resp.Role)
	assert.Equal(t, "cost code report", resp.Content)

	// 重复分析同一张图返回 400
	w = doJSON(t, router, http.MethodPost, "/api/chat/analyze", model.AnalyzeRequest{SessionID: up.SessionID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeWithoutImage(t *testing.T) {
	router, chatService := newTestRouter(&stubInspector{})

	session, err := chatService.CreateSession("")
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodPost, "/api/chat/analyze", model.AnalyzeRequest{SessionID: session.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessageGatedBeforeAnalyze(t *testing.T) {
	router, _ := newTestRouter(&stubInspector{sendReply: "answer"})

	w := uploadImage(t, router, "", tinyPNG(t))
	require.Equal(t, http.StatusOK, w.Code)
	var up model.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))

	w = doJSON(t, router, http.MethodPost, "/api/chat/message", model.ChatRequest{
		SessionID: up.SessionID,
		Message:   "What is cost code 03300?",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessageAfterAnalyze(t *testing.T) {
	router, _ := newTestRouter(&stubInspector{analyzeReply: "report", sendReply: "That is concrete work."})

	w := uploadImage(t, router, "", tinyPNG(t))
	require.Equal(t, http.StatusOK, w.Code)
	var up model.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))

	w = doJSON(t, router, http.MethodPost, "/api/chat/analyze", model.AnalyzeRequest{SessionID: up.SessionID})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/chat/message", model.ChatRequest{
		SessionID: up.SessionID,
		Message:   "What is cost code 03300?",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "That is concrete work.", resp.Content)

	// 消息列表按时间顺序返回
	w = doJSON(t, router, http.MethodGet, "/api/chat/messages/"+up.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var msgResp struct {
		SessionID string          `json:"session_id"`
		Messages  []model.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgResp))
	require.Len(t, msgResp.Messages, 3)
	assert.Equal(t, model.RoleAssistant, msgResp.Messages[0].Role)
	assert.Equal(t, model.RoleUser, msgResp.Messages[1].Role)
	assert.Equal(t, model.RoleAssistant, msgResp.Messages[2].Role)
}

func TestExportText(t *testing.T) {
	router, chatService := newTestRouter(&stubInspector{})

	session, err := chatService.CreateSession("")
	require.NoError(t, err)
	_, err = chatService.AttachImage(session.ID, &model.InvoiceImage{
		FileName: "invoice.png",
		MIMEType: "image/png",
		Data:     tinyPNG(t),
		Width:    1,
		Height:   1,
	})
	require.NoError(t, err)

	store := chatService.GetStorage()
	require.NoError(t, store.AddMessage(session.ID, &model.Message{Role: model.RoleUser, Content: "What is cost code 03300?"}))
	require.NoError(t, store.AddMessage(session.ID, &model.Message{Role: model.RoleAssistant, Content: "That is concrete work."}))

	w := doJSON(t, router, http.MethodGet, "/api/chat/export/"+session.ID+"?format=txt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "invoice_analysis.txt")
	assert.Equal(t, "USER: What is cost code 03300?\n\nASSISTANT: That is concrete work.", w.Body.String())
}

func TestExportPDFDefaultFormat(t *testing.T) {
	router, chatService := newTestRouter(&stubInspector{})

	session, err := chatService.CreateSession("")
	require.NoError(t, err)
	store := chatService.GetStorage()
	require.NoError(t, store.AddMessage(session.ID, &model.Message{Role: model.RoleAssistant, Content: "report"}))

	w := doJSON(t, router, http.MethodGet, "/api/chat/export/"+session.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "invoice_analysis.pdf")
}

func TestExportUnknownFormat(t *testing.T) {
	router, chatService := newTestRouter(&stubInspector{})

	session, err := chatService.CreateSession("")
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodGet, "/api/chat/export/"+session.ID+"?format=docx", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetKeepsImageAndReenablesAnalyze(t *testing.T) {
	router, _ := newTestRouter(&stubInspector{analyzeReply: "report"})

	w := uploadImage(t, router, "", tinyPNG(t))
	require.Equal(t, http.StatusOK, w.Code)
	var up model.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))

	w = doJSON(t, router, http.MethodPost, "/api/chat/analyze", model.AnalyzeRequest{SessionID: up.SessionID})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/chat/reset", model.ResetRequest{SessionID: up.SessionID})
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.ImageAnalyzed)
	assert.True(t, resp.HasImage)
	assert.Equal(t, 0, resp.MessageCount)

	// reset 后同一张图可以重新分析
	w = doJSON(t, router, http.MethodPost, "/api/chat/analyze", model.AnalyzeRequest{SessionID: up.SessionID})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	router, _ := newTestRouter(&stubInspector{})

	w := doJSON(t, router, http.MethodPost, "/api/chat/session", model.CreateSessionRequest{Title: "Job 42"})
	require.Equal(t, http.StatusOK, w.Code)
	var created model.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Job 42", created.Title)

	w = doJSON(t, router, http.MethodPut, "/api/chat/session/"+created.SessionID, map[string]string{"title": "Job 42 revised"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/chat/session/"+created.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched model.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	assert.Equal(t, "Job 42 revised", fetched.Title)

	w = doJSON(t, router, http.MethodPost, "/api/chat/session/list", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Sessions []model.SessionResponse `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Sessions, 1)

	w = doJSON(t, router, http.MethodGet, "/api/chat/session/del/"+created.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/chat/session/"+created.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUsageEndpoint(t *testing.T) {
	router, _ := newTestRouter(&stubInspector{})

	w := doJSON(t, router, http.MethodGet, "/api/chat/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Upload a clear image")
}
