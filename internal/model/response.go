package model

import "time"

type ChatResponse struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Role      string `json:"role"`
	Timestamp int64  `json:"timestamp"`
}

type SessionResponse struct {
	SessionID     string       `json:"session_id"`
	Title         string       `json:"title"`
	State         SessionState `json:"state"`
	ImageAnalyzed bool         `json:"image_analyzed"`
	HasImage      bool         `json:"has_image"`
	MessageCount  int          `json:"message_count"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

type UploadResponse struct {
	SessionID string       `json:"session_id"`
	FileName  string       `json:"file_name"`
	MIMEType  string       `json:"mime_type"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	State     SessionState `json:"state"`
}
