package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"emotion-comfort/internal/domain"
)

// GormParticipantRepository is the GORM/MySQL implementation of
// repository.ParticipantRepository.
type GormParticipantRepository struct {
	db *gorm.DB
}

// NewGormParticipantRepository creates a GormParticipantRepository.
func NewGormParticipantRepository(db *gorm.DB) *GormParticipantRepository {
	if db == nil {
		panic("database connection cannot be nil for GormParticipantRepository")
	}
	return &GormParticipantRepository{db: db}
}

// Upsert creates or reactivates the membership row. The invariant is
// at most one active row per (session, user); re-joining while active
// changes nothing and is reported to the caller so the count is not
// incremented twice.
func (r *GormParticipantRepository) Upsert(ctx context.Context, sessionID string, userID uint, now time.Time) (bool, error) {
	var existing domain.Participant
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Order("id DESC").
		First(&existing).Error
	switch {
	case err == nil && existing.IsActive:
		return true, nil
	case err == nil:
		res := r.db.WithContext(ctx).Model(&domain.Participant{}).
			Where("id = ? AND is_active = ?", existing.ID, false).
			Updates(map[string]interface{}{"is_active": true, "joined_at": now, "left_at": nil})
		if res.Error != nil {
			return false, fmt.Errorf("gorm: reactivate participant (%s, %d): %w", sessionID, userID, res.Error)
		}
		return false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		p := domain.Participant{SessionID: sessionID, UserID: userID, JoinedAt: now, IsActive: true}
		if err := r.db.WithContext(ctx).Create(&p).Error; err != nil {
			return false, fmt.Errorf("gorm: create participant (%s, %d): %w", sessionID, userID, err)
		}
		return false, nil
	default:
		return false, fmt.Errorf("gorm: find participant (%s, %d): %w", sessionID, userID, err)
	}
}

// Deactivate marks the active membership inactive. A no-op for
// non-members and members who already left, which absorbs disconnect
// races.
func (r *GormParticipantRepository) Deactivate(ctx context.Context, sessionID string, userID uint, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("session_id = ? AND user_id = ? AND is_active = ?", sessionID, userID, true).
		Updates(map[string]interface{}{"is_active": false, "left_at": now})
	if res.Error != nil {
		return false, fmt.Errorf("gorm: deactivate participant (%s, %d): %w", sessionID, userID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// IsActive reports whether the user holds an active membership.
func (r *GormParticipantRepository) IsActive(ctx context.Context, sessionID string, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("session_id = ? AND user_id = ? AND is_active = ?", sessionID, userID, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count active participant (%s, %d): %w", sessionID, userID, err)
	}
	return count > 0, nil
}

// DeactivateBySession deactivates every active membership of a session.
func (r *GormParticipantRepository) DeactivateBySession(ctx context.Context, sessionID string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("session_id = ? AND is_active = ?", sessionID, true).
		Updates(map[string]interface{}{"is_active": false, "left_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("gorm: deactivate participants of %q: %w", sessionID, res.Error)
	}
	return res.RowsAffected, nil
}
