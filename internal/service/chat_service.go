package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"invoscan-backend/internal/config"
	"invoscan-backend/internal/inspector"
	"invoscan-backend/internal/model"
	"invoscan-backend/internal/storage"
	"invoscan-backend/pkg/logger"

	"github.com/google/uuid"
)

const defaultSessionTitle = "New Analysis"

// ChatService 负责会话生命周期：上传图片、触发分析、追问、重置。
// 每个会话内的交互串行执行，模型调用仍在途时不接受下一次交互
type ChatService struct {
	storage   storage.Storage
	inspector inspector.Inspector
	locks     sync.Map // sessionID -> *sync.Mutex
	config    *config.SessionConfig
}

func NewChatService(cfg *config.Config, insp inspector.Inspector) *ChatService {
	var store storage.Storage

	if cfg.Storage.Type == "disk" {
		store = storage.NewDiskStorage(cfg.Storage.DataDir, cfg.Storage.CacheSize)
	} else {
		store = storage.NewMemoryStorage()
	}

	if err := store.Init(); err != nil {
		logger.Errorf("Failed to initialize storage: %v", err)
		store = storage.NewMemoryStorage()
		store.Init()
	}

	cs := &ChatService{
		storage:   store,
		inspector: insp,
		config:    &cfg.Session,
	}

	if cs.config.CleanupInterval > 0 && cs.config.TTL > 0 {
		go cs.cleanupOldSessions()
	}

	return cs
}

func (s *ChatService) GetStorage() storage.Storage {
	return s.storage
}

func (s *ChatService) CreateSession(title string) (*model.Session, error) {
	sessionID := fmt.Sprintf("%d", time.Now().UnixNano())

	if title == "" {
		title = defaultSessionTitle + " " + time.Now().Format("2006-01-02 15:04")
	}

	session := &model.Session{
		ID:        sessionID,
		Title:     title,
		Messages:  make([]model.Message, 0),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.storage.CreateSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// GetOrCreateSession 幂等初始化：没有会话就带默认值建一个，已有则原样返回
func (s *ChatService) GetOrCreateSession(sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return s.CreateSession("")
	}

	session, err := s.storage.GetSession(sessionID)
	if err == storage.ErrSessionNotFound {
		return s.CreateSession("")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

func (s *ChatService) GetSession(sessionID string) (*model.Session, error) {
	session, err := s.storage.GetSession(sessionID)
	if err != nil {
		if err == storage.ErrSessionNotFound {
			return nil, fmt.Errorf("%w: %s", storage.ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

func (s *ChatService) GetSessionMessages(sessionID string) ([]model.Message, error) {
	messages, err := s.storage.GetMessages(sessionID)
	if err != nil {
		if err == storage.ErrSessionNotFound {
			return nil, fmt.Errorf("%w: %s", storage.ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	result := make([]model.Message, len(messages))
	for i, msg := range messages {
		result[i] = *msg
	}

	return result, nil
}

func (s *ChatService) GetAllSessions() ([]*model.Session, error) {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *ChatService) DeleteSession(sessionID string) error {
	if err := s.storage.DeleteSession(sessionID); err != nil {
		if err == storage.ErrSessionNotFound {
			return fmt.Errorf("%w: %s", storage.ErrSessionNotFound, sessionID)
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.locks.Delete(sessionID)
	return nil
}

func (s *ChatService) ClearAllSessions() error {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	for _, session := range sessions {
		if err := s.storage.DeleteSession(session.ID); err != nil {
			logger.Errorf("Failed to delete session %s: %v", session.ID, err)
		}
		s.locks.Delete(session.ID)
	}

	return nil
}

func (s *ChatService) UpdateSessionTitle(sessionID, title string) error {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}

	session.Title = title
	session.UpdatedAt = time.Now()

	if err := s.storage.UpdateSession(session); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	return nil
}

// AttachImage 记录最近一次上传的图片；换图不影响已分析标志，
// 标志只能由 Reset 清除
func (s *ChatService) AttachImage(sessionID string, img *model.InvoiceImage) (*model.Session, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	session.Image = img
	session.UpdatedAt = time.Now()

	if err := s.storage.UpdateSession(session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	return session, nil
}

// AnalyzeInvoice 对当前图片执行一次固定模板的成本编码分析。
// 任何外部失败都原样上抛，会话状态保持不变
func (s *ChatService) AnalyzeInvoice(ctx context.Context, sessionID string) (*model.Message, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	if session.Image == nil {
		return nil, ErrNoImage
	}
	if !session.CanAnalyze() {
		return nil, ErrAlreadyAnalyzed
	}

	conv, err := s.ensureConversation(ctx, session)
	if err != nil {
		return nil, err
	}

	report, err := s.inspector.AnalyzeImage(ctx, conv, session.Image.Data, session.Image.MIMEType)
	if err != nil {
		return nil, err
	}

	msg, err := s.appendMessage(session, model.RoleAssistant, report)
	if err != nil {
		return nil, err
	}

	// 只有分析操作可以置位这个标志
	session.ImageAnalyzed = true
	session.UpdatedAt = time.Now()
	if err := s.storage.UpdateSession(session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	return msg, nil
}

// Ask 追问一轮。门控由 image_analyzed 标志执行，而不是模型客户端；
// 交互失败时转录保持不变
func (s *ChatService) Ask(ctx context.Context, sessionID, question string) (*model.Message, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	if !session.CanAsk() {
		return nil, ErrNotAnalyzed
	}

	conv, err := s.ensureConversation(ctx, session)
	if err != nil {
		return nil, err
	}

	reply, err := s.inspector.SendMessage(ctx, conv, question)
	if err != nil {
		return nil, err
	}

	if _, err := s.appendMessage(session, model.RoleUser, question); err != nil {
		return nil, err
	}
	msg, err := s.appendMessage(session, model.RoleAssistant, reply)
	if err != nil {
		return nil, err
	}

	// 第一条用户提问顺带当作标题
	if strings.HasPrefix(session.Title, defaultSessionTitle) {
		session.Title = truncateString(question, 30)
	}
	session.UpdatedAt = time.Now()
	if err := s.storage.UpdateSession(session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	return msg, nil
}

// Reset 清空转录和已分析标志并换一个新的对话句柄，
// 已上传的图片保留（与原始行为一致，不要"顺手修掉"）
func (s *ChatService) Reset(ctx context.Context, sessionID string) (*model.Session, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.storage.ClearMessages(sessionID); err != nil {
		return nil, fmt.Errorf("failed to clear messages: %w", err)
	}

	session.Messages = session.Messages[:0]
	session.ImageAnalyzed = false
	session.UpdatedAt = time.Now()

	conv, err := s.inspector.StartChat(ctx)
	if err != nil {
		// 凭证缺失时句柄留空，下一次交互再懒启动
		logger.Warnf("start chat on reset failed: %v", err)
		session.Conversation = nil
	} else {
		session.Conversation = conv
	}

	if err := s.storage.UpdateSession(session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	return session, nil
}

func (s *ChatService) ensureConversation(ctx context.Context, session *model.Session) (model.Conversation, error) {
	if session.Conversation != nil {
		return session.Conversation, nil
	}

	conv, err := s.inspector.StartChat(ctx)
	if err != nil {
		return nil, err
	}

	session.Conversation = conv
	if err := s.storage.UpdateSession(session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	return conv, nil
}

func (s *ChatService) appendMessage(session *model.Session, role, content string) (*model.Message, error) {
	message := &model.Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}

	if err := s.storage.AddMessage(session.ID, message); err != nil {
		return nil, fmt.Errorf("failed to add message: %w", err)
	}

	return message, nil
}

func (s *ChatService) sessionLock(sessionID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// cleanupOldSessions 按 TTL 回收长时间没有交互的会话，
// 服务端等价于"浏览器会话结束即销毁"
func (s *ChatService) cleanupOldSessions() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		sessions, err := s.storage.ListSessions()
		if err != nil {
			logger.Errorf("Failed to list sessions for cleanup: %v", err)
			continue
		}

		cutoff := time.Now().Add(-s.config.TTL)
		for _, session := range sessions {
			if session.UpdatedAt.Before(cutoff) {
				if err := s.storage.DeleteSession(session.ID); err != nil {
					logger.Errorf("Failed to clean up session %s: %v", session.ID, err)
					continue
				}
				s.locks.Delete(session.ID)
				logger.Infof("清理过期会话: %s", session.ID)
			}
		}
	}
}

// truncateString 按 Unicode 字符安全截断
func truncateString(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
