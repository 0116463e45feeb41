package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"invoscan-backend/internal/config"
	"invoscan-backend/internal/export"
	"invoscan-backend/internal/inspector"
	"invoscan-backend/internal/model"
	"invoscan-backend/internal/service"
	"invoscan-backend/internal/storage"
	"invoscan-backend/internal/utils"
	"invoscan-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chatService *service.ChatService
	upload      config.UploadConfig
}

func NewChatHandler(chatService *service.ChatService, upload config.UploadConfig) *ChatHandler {
	if upload.MaxSizeBytes <= 0 {
		upload.MaxSizeBytes = 10 << 20
	}
	return &ChatHandler{
		chatService: chatService,
		upload:      upload,
	}
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req model.CreateSessionRequest
	// 允许空请求体，使用默认标题
	if err := c.ShouldBindJSON(&req); err != nil {
		req.Title = ""
	}

	session, err := h.chatService.CreateSession(req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, sessionResponse(session))
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	session, err := h.chatService.GetSession(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, sessionResponse(session))
}

func (h *ChatHandler) GetSessionList(c *gin.Context) {
	sessions, err := h.chatService.GetAllSessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	list := make([]model.SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		list = append(list, sessionResponse(session))
	}

	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	if err := h.chatService.DeleteSession(sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session deleted successfully"})
}

func (h *ChatHandler) ClearAllSessions(c *gin.Context) {
	if err := h.chatService.ClearAllSessions(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "All sessions cleared successfully"})
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	sessionID := c.Param("session_id")

	messages, err := h.chatService.GetSessionMessages(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func (h *ChatHandler) UpdateSessionTitle(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req struct {
		Title string `json:"title" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.UpdateSessionTitle(sessionID, req.Title); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Title updated successfully"})
}

// UploadImage 接收 multipart 图片上传，模型调用之前先做解码校验，
// 校验失败不改动任何会话状态
func (h *ChatHandler) UploadImage(c *gin.Context) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}

	if fileHeader.Size > h.upload.MaxSizeBytes {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("image exceeds max upload size of %d bytes", h.upload.MaxSizeBytes),
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.upload.MaxSizeBytes+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	mime, width, height, err := utils.ValidateInvoiceImage(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 会话隐式创建：第一次交互没有会话就建一个
	session, err := h.chatService.GetOrCreateSession(c.PostForm("session_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	session, err = h.chatService.AttachImage(session.ID, &model.InvoiceImage{
		FileName: fileHeader.Filename,
		MIMEType: mime,
		Data:     data,
		Width:    width,
		Height:   height,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logger.Infof("图片上传成功 - SessionID: %s, File: %s (%dx%d)", session.ID, fileHeader.Filename, width, height)

	c.JSON(http.StatusOK, model.UploadResponse{
		SessionID: session.ID,
		FileName:  fileHeader.Filename,
		MIMEType:  mime,
		Width:     width,
		Height:    height,
		State:     session.State(),
	})
}

func (h *ChatHandler) Analyze(c *gin.Context) {
	var req model.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.chatService.AnalyzeInvoice(c.Request.Context(), req.SessionID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse(msg))
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.chatService.Ask(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse(msg))
}

func (h *ChatHandler) Reset(c *gin.Context) {
	var req model.ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.chatService.Reset(c.Request.Context(), req.SessionID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionResponse(session))
}

// Export 把转录导出为 pdf 或 txt 下载
func (h *ChatHandler) Export(c *gin.Context) {
	sessionID := c.Param("session_id")

	format := c.DefaultQuery("format", "pdf")
	exporter, err := export.ForFormat(format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	messages, err := h.chatService.GetSessionMessages(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	data, err := exporter.Render(messages)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exporter.FileName()))
	c.Data(http.StatusOK, exporter.ContentType(), data)
}

// Usage 前端"使用说明"文案
func (h *ChatHandler) Usage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"usage": usageGuide})
}

// writeServiceError 把服务层错误映射成对应的 HTTP 状态，
// 任何一次失败都只影响当前交互，不破坏会话状态
func (h *ChatHandler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNoImage),
		errors.Is(err, service.ErrAlreadyAnalyzed),
		errors.Is(err, service.ErrNotAnalyzed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, inspector.ErrMissingAPIKey):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		logger.Errorf("模型交互失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func sessionResponse(session *model.Session) model.SessionResponse {
	return model.SessionResponse{
		SessionID:     session.ID,
		Title:         session.Title,
		State:         session.State(),
		ImageAnalyzed: session.ImageAnalyzed,
		HasImage:      session.Image != nil,
		MessageCount:  len(session.Messages),
		CreatedAt:     session.CreatedAt,
		UpdatedAt:     session.UpdatedAt,
	}
}

func chatResponse(msg *model.Message) model.ChatResponse {
	return model.ChatResponse{
		SessionID: msg.SessionID,
		MessageID: msg.ID,
		Content:   msg.Content,
		Role:      msg.Role,
		Timestamp: msg.Timestamp.Unix(),
	}
}

const usageGuide = `### How to Use This Invoice/Estimate Analyzer
1. Upload a clear image of your construction invoice/estimate
2. Trigger "Analyze" to get an automated cost code analysis
3. Review the generated cost codes and classifications
4. Ask questions about specific line items or classifications
5. Use "Reset" to clear the conversation and start fresh

Example questions you can ask:
- Can you explain the reasoning for a specific cost code assignment?
- What items were flagged for review?
- How confident are you about the classifications?
- Can you break down a specific line item into sub-components?
- Are there any alternative cost codes that could apply to this item?`
