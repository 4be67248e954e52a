package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind identifies a client-originated live event.
type EventKind string

const (
	EventJoin          EventKind = "join"
	EventShareEmotion  EventKind = "share_emotion"
	EventSendComfort   EventKind = "send_comfort"
	EventQuickReaction EventKind = "quick_reaction"
	EventLeave         EventKind = "leave"
)

// ErrInvalidEvent is returned when an incoming frame does not form a
// valid client event.
var ErrInvalidEvent = errors.New("domain: invalid client event")

// ClientEvent is the closed set of events a connection may send.
// Exactly the fields required by the event's kind are set; everything
// is validated here so the services never see a malformed payload.
type ClientEvent struct {
	Kind      EventKind `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Emotion   string    `json:"emotion,omitempty"`
	Message   string    `json:"message,omitempty"`
	Reaction  string    `json:"reaction,omitempty"`
}

// ParseClientEvent decodes and validates a raw websocket frame.
func ParseClientEvent(raw []byte) (ClientEvent, error) {
	var ev ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ClientEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return ClientEvent{}, err
	}
	return ev, nil
}

// Validate checks the per-kind payload requirements.
func (ev ClientEvent) Validate() error {
	switch ev.Kind {
	case EventJoin:
		if ev.SessionID == "" {
			return fmt.Errorf("%w: join requires session_id", ErrInvalidEvent)
		}
	case EventShareEmotion:
		if ev.SessionID == "" || ev.Emotion == "" {
			return fmt.Errorf("%w: share_emotion requires session_id and emotion", ErrInvalidEvent)
		}
	case EventSendComfort:
		if ev.SessionID == "" || ev.Message == "" {
			return fmt.Errorf("%w: send_comfort requires session_id and message", ErrInvalidEvent)
		}
	case EventQuickReaction:
		if ev.SessionID == "" || ev.Reaction == "" {
			return fmt.Errorf("%w: quick_reaction requires session_id and reaction", ErrInvalidEvent)
		}
	case EventLeave:
		// leave applies to the connection's current session
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Kind)
	}
	return nil
}
