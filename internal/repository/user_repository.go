package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hostedid/devicereset/internal/database"
	"github.com/hostedid/devicereset/internal/model"
	"github.com/lib/pq"
)

// UserRepository reads the account fields a device reset needs
type UserRepository struct {
	db *database.Postgres
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.Postgres) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID retrieves a user by ID (excludes soft-deleted)
func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `
		SELECT id, email, status, created_at, updated_at
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetKBAProfile returns the user's security question and answer digests
func (r *UserRepository) GetKBAProfile(ctx context.Context, userID string) (*model.KBAProfile, error) {
	query := `
		SELECT u.id, u.email, q.question, q.options, q.answer_digests, q.updated_at
		FROM users u
		JOIN user_security_questions q ON q.user_id = u.id
		WHERE u.id = $1 AND u.deleted_at IS NULL
	`
	var profile model.KBAProfile
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.Email,
		&profile.Question,
		pq.Array(&profile.Options),
		pq.Array(&profile.AnswerDigests),
		&profile.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kba profile: %w", err)
	}
	return &profile, nil
}

// SetKBAProfile creates or replaces the user's security question
func (r *UserRepository) SetKBAProfile(ctx context.Context, profile *model.KBAProfile) error {
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now()
	}
	query := `
		INSERT INTO user_security_questions (user_id, question, options, answer_digests, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET question = EXCLUDED.question, options = EXCLUDED.options,
		    answer_digests = EXCLUDED.answer_digests, updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		profile.UserID,
		profile.Question,
		pq.Array(profile.Options),
		pq.Array(profile.AnswerDigests),
		profile.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("failed to set kba profile: %w", err)
	}
	return nil
}

// scanUser scans a single user row
func (r *UserRepository) scanUser(row *sql.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}
