package realtime

import "time"

// Client to server event types.
const (
	EvtJoinSession  = "join_session"
	EvtLeaveSession = "leave_session"
	EvtStartCall    = "start_call"
	EvtEndCall      = "end_call"
	EvtEndChat      = "end_chat"
	EvtChatMessage  = "chat_message"
	EvtTypingStart  = "typing_start"
	EvtTypingStop   = "typing_stop"
)

// Server to client event types.
const (
	EvtPresence            = "presence"
	EvtCallActiveConfirmed = "call_active_confirmed"
	EvtBalances            = "balances"
	EvtSessionEnded        = "session_ended"
	EvtCallUpgradedToVideo = "call_upgraded_to_video"
	EvtError               = "error"
)

// Error codes carried on error events.
const (
	ErrCodeUnauthorized        = "unauthorized"
	ErrCodeForbidden           = "forbidden"
	ErrCodeInsufficientCredits = "insufficient_credits"
	ErrCodeSessionCompleted    = "session_completed"
	ErrCodePrecondition        = "precondition_failed"
	ErrCodeUnavailable         = "unavailable"
	ErrCodeInvalid             = "invalid_argument"
)

// ClientFrame is the single inbound wire shape; unused fields stay empty
// depending on Type.
type ClientFrame struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ServerEvent is the single outbound wire shape. Optional fields are
// pointers or omitempty so each event type carries only its own payload.
type ServerEvent struct {
	Type string `json:"type"`

	// presence
	Count *int `json:"count,omitempty"`

	// call_active_confirmed
	SessionID string `json:"sessionId,omitempty"`

	// balances
	CustomerCredits   *int64 `json:"customerCredits,omitempty"`
	ConsultantCredits *int64 `json:"consultantCredits,omitempty"`

	// chat_message / typing relay
	SenderID  string `json:"senderId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Message   string `json:"message,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`

	// error
	Code string `json:"code,omitempty"`
}

func presenceEvent(count int) ServerEvent {
	return ServerEvent{Type: EvtPresence, Count: &count}
}

func callActiveEvent(sessionID string) ServerEvent {
	return ServerEvent{Type: EvtCallActiveConfirmed, SessionID: sessionID}
}

func balancesEvent(customer, consultant *int64) ServerEvent {
	return ServerEvent{Type: EvtBalances, CustomerCredits: customer, ConsultantCredits: consultant}
}

func chatEvent(senderID, text string, at time.Time) ServerEvent {
	return ServerEvent{
		Type:      EvtChatMessage,
		SenderID:  senderID,
		Message:   text,
		CreatedAt: at.UTC().Format(time.RFC3339),
	}
}

func typingEvent(typ, userID string) ServerEvent {
	return ServerEvent{Type: typ, UserID: userID}
}

func errorEvent(code, message string) ServerEvent {
	return ServerEvent{Type: EvtError, Code: code, Message: message}
}

func sessionEndedEvent() ServerEvent {
	return ServerEvent{Type: EvtSessionEnded}
}
