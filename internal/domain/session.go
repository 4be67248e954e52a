package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a live comfort session.
// Transitions only move forward: waiting -> active -> ended.
type SessionStatus string

const (
	StatusWaiting SessionStatus = "waiting"
	StatusActive  SessionStatus = "active"
	StatusEnded   SessionStatus = "ended"
)

// ActivationThreshold is the participant count at which a waiting
// session becomes active. Once active it never reverts to waiting,
// even if participants leave afterwards.
const ActivationThreshold = 3

// Session is an anonymous live comfort room: capacity-bounded,
// time-boxed and tied to a single emotion tag. Ended sessions are kept
// as history and never deleted.
type Session struct {
	SessionID    string        `gorm:"primaryKey;size:191" json:"session_id"`
	EmotionTag   string        `gorm:"size:50;not null;index" json:"emotion_tag"`
	CurrentUsers int           `gorm:"not null;default:0" json:"current_users"`
	MaxUsers     int           `gorm:"not null" json:"max_users"`
	Status       SessionStatus `gorm:"size:20;not null;index" json:"status"`
	StartTime    time.Time     `gorm:"not null" json:"start_time"`
	EndTime      time.Time     `gorm:"not null;index" json:"end_time"`
	CreatedAt    time.Time     `gorm:"autoCreateTime" json:"-"`
	UpdatedAt    time.Time     `gorm:"autoUpdateTime" json:"-"`
}

// TableName keeps the table name aligned with the historical schema.
func (Session) TableName() string { return "live_comfort_sessions" }

// Expired reports whether the session deadline has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.EndTime)
}

// Joinable reports whether a join attempt may proceed at all.
// The capacity check itself happens atomically at the store.
func (s *Session) Joinable(now time.Time) bool {
	return s.Status != StatusEnded && !s.Expired(now)
}

// NewSessionID builds an opaque but human-debuggable session id of the
// form live_{emotion_tag}_{random_hex}.
func NewSessionID(emotionTag string) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("domain: generate session id: %w", err)
	}
	return fmt.Sprintf("live_%s_%s", emotionTag, hex.EncodeToString(b)), nil
}
