// Package timeline turns channel notifications into typed events and
// reconciles them, live and replayed, into one ordered transcript.
package timeline

import (
	"fmt"

	"rolechat/internal/core/domain"
)

// Source tells whether an event arrived on the live subscription or from a
// history page. DELETE matching differs between the two.
type Source int

const (
	Live Source = iota
	History
)

func (s Source) String() string {
	if s == History {
		return "history"
	}
	return "live"
}

// Event is one of AddEvent, DeleteEvent, PromoteEvent or DemoteEvent.
type Event interface {
	Message() *domain.Message
	event()
}

type AddEvent struct {
	Msg *domain.Message
}

// DeleteEvent is a self-delete tombstone. Ref carries the referenced id and,
// when known, its timeserial.
type DeleteEvent struct {
	Msg *domain.Message
	Ref domain.MessageRef
}

// PromoteEvent announces that UserKey became a moderator.
type PromoteEvent struct {
	Msg     *domain.Message
	UserKey string
	Role    domain.RoleName
}

type DemoteEvent struct {
	Msg     *domain.Message
	UserKey string
	Role    domain.RoleName
}

func (e AddEvent) Message() *domain.Message     { return e.Msg }
func (e DeleteEvent) Message() *domain.Message  { return e.Msg }
func (e PromoteEvent) Message() *domain.Message { return e.Msg }
func (e DemoteEvent) Message() *domain.Message  { return e.Msg }

func (AddEvent) event()     {}
func (DeleteEvent) event()  {}
func (PromoteEvent) event() {}
func (DemoteEvent) event()  {}

// Decode validates a channel message and wraps it in its event type.
func Decode(msg *domain.Message) (Event, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", domain.ErrInvalidMessage)
	}

	switch msg.Name {
	case domain.MessageAdd:
		if msg.ID == "" {
			return nil, fmt.Errorf("%w: ADD without id", domain.ErrInvalidMessage)
		}
		return AddEvent{Msg: msg}, nil

	case domain.MessageDelete:
		ref := msg.Ref()
		if ref == nil || (ref.ID == "" && ref.Timeserial == "") {
			return nil, fmt.Errorf("%w: DELETE without reference", domain.ErrInvalidMessage)
		}
		return DeleteEvent{Msg: msg, Ref: *ref}, nil

	case domain.MessagePromote, domain.MessageDemote:
		if msg.Data == nil || msg.Data.ID == "" {
			return nil, fmt.Errorf("%w: %s without user", domain.ErrInvalidMessage, msg.Name)
		}
		if msg.Name == domain.MessagePromote {
			return PromoteEvent{Msg: msg, UserKey: msg.Data.ID, Role: msg.Data.Role}, nil
		}
		return DemoteEvent{Msg: msg, UserKey: msg.Data.ID, Role: msg.Data.Role}, nil
	}

	return nil, fmt.Errorf("%w: unknown message name %q", domain.ErrInvalidMessage, msg.Name)
}
