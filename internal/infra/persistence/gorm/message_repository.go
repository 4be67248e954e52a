package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"emotion-comfort/internal/domain"
)

// GormMessageRepository is the GORM/MySQL implementation of
// repository.MessageRepository.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a GormMessageRepository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMessageRepository")
	}
	return &GormMessageRepository{db: db}
}

// Insert appends one message to the session log.
func (r *GormMessageRepository) Insert(ctx context.Context, msg *domain.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("gorm: insert message for %q: %w", msg.SessionID, err)
	}
	return nil
}

// TrimToRecent deletes all but the `keep` most recent messages. MySQL
// cannot delete from a table it subqueries, so the cutoff id is read
// first; under concurrent posting the cap converges rather than being
// exact at every instant, which is acceptable for the session log.
func (r *GormMessageRepository) TrimToRecent(ctx context.Context, sessionID string, keep int) error {
	if keep <= 0 {
		keep = domain.RetentionCap
	}
	var cutoff []uint
	err := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("session_id = ?", sessionID).
		Order("message_id DESC").
		Offset(keep - 1).
		Limit(1).
		Pluck("message_id", &cutoff).Error
	if err != nil {
		return fmt.Errorf("gorm: find trim cutoff for %q: %w", sessionID, err)
	}
	if len(cutoff) == 0 {
		// Fewer than `keep` messages retained; nothing to trim.
		return nil
	}
	res := r.db.WithContext(ctx).
		Where("session_id = ? AND message_id < ?", sessionID, cutoff[0]).
		Delete(&domain.Message{})
	if res.Error != nil {
		return fmt.Errorf("gorm: trim messages of %q: %w", sessionID, res.Error)
	}
	return nil
}

// CountBySession returns the number of retained messages.
func (r *GormMessageRepository) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: count messages of %q: %w", sessionID, err)
	}
	return count, nil
}
