package model

import "fmt"

// 会话状态机：把"按钮可用/不可用"的逻辑从UI里拿出来，
// 使 image_analyzed 的门控可以独立于任何前端框架测试
type SessionState string

const (
	StateNoImage       SessionState = "no_image"
	StateImageUploaded SessionState = "image_uploaded"
	StateAnalyzing     SessionState = "analyzing"
	StateAnalyzed      SessionState = "analyzed"
	StateAwaitingReply SessionState = "awaiting_reply"
)

type SessionEvent string

const (
	EventUpload        SessionEvent = "upload"
	EventAnalyze       SessionEvent = "analyze"
	EventReplyReceived SessionEvent = "reply_received"
	EventAsk           SessionEvent = "ask"
	EventReset         SessionEvent = "reset"
)

var transitions = map[SessionState]map[SessionEvent]SessionState{
	StateNoImage: {
		EventUpload: StateImageUploaded,
		EventReset:  StateNoImage,
	},
	StateImageUploaded: {
		EventUpload:  StateImageUploaded,
		EventAnalyze: StateAnalyzing,
		EventReset:   StateImageUploaded,
	},
	StateAnalyzing: {
		EventReplyReceived: StateAnalyzed,
		EventReset:         StateImageUploaded,
	},
	StateAnalyzed: {
		// 分析完成后允许换图，但在 reset 之前不允许重新分析
		EventUpload: StateAnalyzed,
		EventAsk:    StateAwaitingReply,
		EventReset:  StateImageUploaded,
	},
	StateAwaitingReply: {
		EventReplyReceived: StateAnalyzed,
		EventReset:         StateImageUploaded,
	},
}

// Next 计算一次状态转移，非法事件返回错误
func Next(state SessionState, event SessionEvent) (SessionState, error) {
	if next, ok := transitions[state][event]; ok {
		return next, nil
	}
	return state, fmt.Errorf("event %q not allowed in state %q", event, state)
}

// State 由会话字段推导出当前稳定状态（Analyzing/AwaitingReply 只在一次请求内部存在）
func (s *Session) State() SessionState {
	switch {
	case s.ImageAnalyzed:
		return StateAnalyzed
	case s.Image != nil:
		return StateImageUploaded
	default:
		return StateNoImage
	}
}

// CanAnalyze 有图且尚未分析时才允许触发分析
func (s *Session) CanAnalyze() bool {
	return s.Image != nil && !s.ImageAnalyzed
}

// CanAsk 追问只在首次分析完成之后开放，由标志位而非模型客户端来把关
func (s *Session) CanAsk() bool {
	return s.ImageAnalyzed
}
