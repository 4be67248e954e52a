package domain

import (
	"fmt"
	"strings"
	"time"
)

// MessageKind classifies a session message.
type MessageKind string

const (
	MessageEmotion  MessageKind = "emotion"
	MessageComfort  MessageKind = "comfort"
	MessageReaction MessageKind = "reaction"
)

// RetentionCap is the maximum number of messages retained per session.
// Older messages are trimmed after each insert; the cap is convergent,
// not enforced atomically on every write.
const RetentionCap = 100

// Message is one entry in a session's ephemeral message log.
type Message struct {
	MessageID uint        `gorm:"primaryKey;column:message_id"`
	SessionID string      `gorm:"size:191;not null;index"`
	UserID    uint        `gorm:"not null"`
	Kind      MessageKind `gorm:"size:20;not null;column:message_type"`
	Content   string      `gorm:"type:text;not null;column:message_content"`
	CreatedAt time.Time   `gorm:"autoCreateTime;index"`
}

func (Message) TableName() string { return "live_session_messages" }

// SanitizeContent strips angle brackets before storage. Anything more
// elaborate than this is out of scope for the session log.
func SanitizeContent(content string) string {
	return strings.NewReplacer("<", "", ">", "").Replace(content)
}

// AnonymousName returns the stable per-user pseudonym shown with an
// emotion share.
func AnonymousName(userID uint) string {
	return fmt.Sprintf("익명 %d", userID%1000)
}

// ComfortName returns the pseudonym shown with a comfort message.
func ComfortName(userID uint) string {
	return fmt.Sprintf("따뜻한 이웃 %d", userID%1000)
}
