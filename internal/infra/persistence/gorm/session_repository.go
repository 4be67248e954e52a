package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"emotion-comfort/internal/domain"
	"emotion-comfort/internal/repository"
)

// GormSessionRepository is the GORM/MySQL implementation of
// repository.SessionRepository.
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a GormSessionRepository.
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSessionRepository")
	}
	return &GormSessionRepository{db: db}
}

// FindByID looks a session up by id.
func (r *GormSessionRepository) FindByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).First(&session, "session_id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: find session %q: %w", sessionID, err)
	}
	return &session, nil
}

// Create inserts a new session row.
func (r *GormSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create session %q: %w", session.SessionID, err)
	}
	return nil
}

// ListActive returns joinable sessions, newest first.
func (r *GormSessionRepository) ListActive(ctx context.Context, now time.Time) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("status IN ? AND end_time > ?", []domain.SessionStatus{domain.StatusWaiting, domain.StatusActive}, now).
		Order("start_time DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list active sessions: %w", err)
	}
	return sessions, nil
}

// ExistsByID reports whether a session id is already taken.
func (r *GormSessionRepository) ExistsByID(ctx context.Context, sessionID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("session_id = ?", sessionID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count sessions by id %q: %w", sessionID, err)
	}
	return count > 0, nil
}

// IncrementIfJoinable performs the atomic check-and-increment. The
// capacity and lifecycle conditions live in the WHERE clause, so two
// racing joins can never both take the last slot, and the activation
// transition is folded into the same statement.
func (r *GormSessionRepository) IncrementIfJoinable(ctx context.Context, sessionID string) (*domain.Session, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE live_comfort_sessions
		SET current_users = current_users + 1,
		    status = CASE WHEN current_users >= ? AND status = ? THEN ? ELSE status END
		WHERE session_id = ? AND current_users < max_users AND status <> ?`,
		domain.ActivationThreshold, domain.StatusWaiting, domain.StatusActive,
		sessionID, domain.StatusEnded,
	)
	if res.Error != nil {
		return nil, fmt.Errorf("gorm: increment session %q: %w", sessionID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Full, ended or missing; the caller re-reads to tell apart.
		exists, err := r.ExistsByID(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, repository.ErrSessionNotFound
		}
		return nil, repository.ErrConflict
	}
	return r.FindByID(ctx, sessionID)
}

// DecrementCount lowers current_users, floored at zero.
func (r *GormSessionRepository) DecrementCount(ctx context.Context, sessionID string) (*domain.Session, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE live_comfort_sessions
		SET current_users = GREATEST(current_users - 1, 0)
		WHERE session_id = ?`,
		sessionID,
	)
	if res.Error != nil {
		return nil, fmt.Errorf("gorm: decrement session %q: %w", sessionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, repository.ErrSessionNotFound
	}
	return r.FindByID(ctx, sessionID)
}

// FindExpired returns ids of sessions past their deadline that are not
// ended yet.
func (r *GormSessionRepository) FindExpired(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("end_time < ? AND status <> ?", now, domain.StatusEnded).
		Pluck("session_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find expired sessions: %w", err)
	}
	return ids, nil
}

// MarkEnded transitions the session to ended unless it already is.
func (r *GormSessionRepository) MarkEnded(ctx context.Context, sessionID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("session_id = ? AND status <> ?", sessionID, domain.StatusEnded).
		Update("status", domain.StatusEnded)
	if res.Error != nil {
		return false, fmt.Errorf("gorm: mark session %q ended: %w", sessionID, res.Error)
	}
	return res.RowsAffected > 0, nil
}
