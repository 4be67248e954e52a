package domain

import "time"

// Participant is a user's join record for a session. At most one
// active row may exist per (session, user); leaving deactivates the
// row instead of deleting it.
type Participant struct {
	ID        uint       `gorm:"primaryKey"`
	SessionID string     `gorm:"size:191;not null;index:idx_session_user"`
	UserID    uint       `gorm:"not null;index:idx_session_user"`
	JoinedAt  time.Time  `gorm:"autoCreateTime"`
	LeftAt    *time.Time `gorm:""`
	IsActive  bool       `gorm:"not null;default:true;index"`
}

func (Participant) TableName() string { return "live_session_participants" }
