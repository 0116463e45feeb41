package model

type ChatRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
}

type AnalyzeRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

type ResetRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

type CreateSessionRequest struct {
	Title string `json:"title"`
}
