package domain

import "time"

type MessageName string

const (
	MessageAdd     MessageName = "ADD"
	MessageDelete  MessageName = "DELETE"
	MessagePromote MessageName = "PROMOTE"
	MessageDemote  MessageName = "DEMOTE"
)

func (n MessageName) Valid() bool {
	switch n {
	case MessageAdd, MessageDelete, MessagePromote, MessageDemote:
		return true
	}
	return false
}

// MessageData is the payload of ADD, PROMOTE and DEMOTE messages.
type MessageData struct {
	ID        string   `json:"id,omitempty"`
	Text      string   `json:"text,omitempty"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
	Role      RoleName `json:"role,omitempty"`
}

// MessageRef addresses an earlier message. Live deliveries match on ID,
// history replays on Timeserial.
type MessageRef struct {
	ID         string `json:"id,omitempty"`
	Timeserial string `json:"timeserial,omitempty"`
}

type MessageExtras struct {
	Ref *MessageRef `json:"ref,omitempty"`
}

// Message is one entry of a channel log.
type Message struct {
	ID         string         `json:"id"`
	Channel    string         `json:"channel,omitempty"`
	ClientID   string         `json:"clientId"`
	Name       MessageName    `json:"name"`
	Data       *MessageData   `json:"data,omitempty"`
	Extras     *MessageExtras `json:"extras,omitempty"`
	Timeserial string         `json:"timeserial,omitempty"`
	Timestamp  int64          `json:"timestamp"`
}

// Ref returns the referenced message of a DELETE, or nil.
func (m *Message) Ref() *MessageRef {
	if m.Extras == nil {
		return nil
	}
	return m.Extras.Ref
}

func (m *Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

type HistoryDirection string

const (
	HistoryForwards  HistoryDirection = "forwards"
	HistoryBackwards HistoryDirection = "backwards"
)

type HistoryQuery struct {
	Limit     int
	Direction HistoryDirection
}
