package realtime

import "rolechat/internal/core/domain"

// Client actions.
const (
	ActionAttach   = "attach"
	ActionDetach   = "detach"
	ActionPublish  = "publish"
	ActionHistory  = "history"
	ActionEnter    = "enter"
	ActionLeave    = "leave"
	ActionPresence = "presence"
)

// Server actions.
const (
	ActionAttached  = "attached"
	ActionDetached  = "detached"
	ActionAck       = "ack"
	ActionMessage   = "message"
	ActionError     = "error"
	ActionConnected = "connected"
)

// Frame is the JSON envelope exchanged over a realtime websocket. Replies
// carry the ID of the request they answer; pushed messages have no ID.
type Frame struct {
	Action    string                  `json:"action"`
	ID        string                  `json:"id,omitempty"`
	Channel   string                  `json:"channel,omitempty"`
	Message   *domain.Message         `json:"message,omitempty"`
	Messages  []*domain.Message       `json:"messages,omitempty"`
	Members   []string                `json:"members,omitempty"`
	Limit     int                     `json:"limit,omitempty"`
	Direction domain.HistoryDirection `json:"direction,omitempty"`
	ClientID  string                  `json:"clientId,omitempty"`
	Error     string                  `json:"error,omitempty"`
}
