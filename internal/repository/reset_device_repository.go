package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hostedid/devicereset/internal/auth"
	"github.com/hostedid/devicereset/internal/database"
	"github.com/hostedid/devicereset/internal/model"
	"github.com/lib/pq"
)

// IssueResult is returned by a store when a new token is minted
type IssueResult struct {
	// Token is the plaintext token; it is not stored anywhere
	Token   string
	Request *model.ResetDeviceRequest
	// Superseded is the previously granted request closed by this issue, if any
	Superseded *model.ResetDeviceRequest
}

const resetDeviceColumns = `id, user_id, state, token_hash, token_issued_at, token_expires_at,
	failed_attempt_count, question, options, answer_digests, close_reason, created_at, updated_at, closed_at`

// ResetDeviceRepository persists reset-device requests in PostgreSQL.
// Every mutation is a single statement conditioned on the row still being
// granted and unexpired at write time.
type ResetDeviceRepository struct {
	db  *database.Postgres
	now func() time.Time
}

// NewResetDeviceRepository creates a new ResetDeviceRepository
func NewResetDeviceRepository(db *database.Postgres) *ResetDeviceRepository {
	return &ResetDeviceRepository{db: db, now: time.Now}
}

// SetClock overrides the time source used for expiry checks
func (r *ResetDeviceRepository) SetClock(now func() time.Time) {
	r.now = now
}

// Open records a requested reset for userID. When the user already has an
// open requested record it is returned and created is false.
func (r *ResetDeviceRepository) Open(ctx context.Context, userID string) (*model.ResetDeviceRequest, bool, error) {
	if userID == "" {
		return nil, false, ErrInvalidInput
	}
	now := r.now()

	insert := `
		INSERT INTO reset_device_requests (id, user_id, state, failed_attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $4)
		ON CONFLICT (user_id) WHERE state = 'requested' DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, insert, newRequestID(), userID, model.ResetDeviceRequested, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open reset device request: %w", err)
	}
	inserted, _ := result.RowsAffected()

	query := `SELECT ` + resetDeviceColumns + ` FROM reset_device_requests WHERE user_id = $1 AND state = $2`
	req, err := scanResetDevice(r.db.QueryRowContext(ctx, query, userID, model.ResetDeviceRequested))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load reset device request: %w", err)
	}
	return req, inserted == 1, nil
}

// Issue grants a new token for userID. Any granted request of the user is
// closed as superseded in the same transaction; an open requested record is
// promoted, otherwise a new record is inserted directly as granted.
func (r *ResetDeviceRepository) Issue(ctx context.Context, userID string, profile *model.KBAProfile, ttl time.Duration) (*IssueResult, error) {
	if userID == "" || ttl <= 0 || profile == nil {
		return nil, ErrInvalidInput
	}

	token, err := auth.GenerateResetToken()
	if err != nil {
		return nil, err
	}
	tokenHash := auth.HashToken(token)
	now := r.now()
	expiresAt := now.Add(ttl)

	result := &IssueResult{Token: token}

	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		// Serialize grants per user across instances; released on commit/rollback.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
			return fmt.Errorf("failed to acquire grant lock: %w", err)
		}

		supersede := `
			UPDATE reset_device_requests
			SET state = $1, close_reason = $2, token_hash = NULL, closed_at = $3, updated_at = $3
			WHERE user_id = $4 AND state = $5
			RETURNING ` + resetDeviceColumns
		prev, err := scanResetDevice(tx.QueryRowContext(ctx, supersede,
			model.ResetDeviceCancelled, model.CloseReasonSuperseded, now, userID, model.ResetDeviceGranted))
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return fmt.Errorf("failed to supersede granted request: %w", err)
		default:
			result.Superseded = prev
		}

		promote := `
			UPDATE reset_device_requests
			SET state = $1, token_hash = $2, token_issued_at = $3, token_expires_at = $4,
			    failed_attempt_count = 0, question = $5, options = COALESCE($6::text[], '{}'), answer_digests = $7, updated_at = $3
			WHERE user_id = $8 AND state = $9
			RETURNING ` + resetDeviceColumns
		req, err := scanResetDevice(tx.QueryRowContext(ctx, promote,
			model.ResetDeviceGranted, tokenHash, now, expiresAt, profile.Question, pq.Array(profile.Options),
			pq.Array(profile.AnswerDigests), userID, model.ResetDeviceRequested))
		if err == nil {
			result.Request = req
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to promote requested record: %w", err)
		}

		insert := `
			INSERT INTO reset_device_requests (id, user_id, state, token_hash, token_issued_at, token_expires_at,
			    failed_attempt_count, question, options, answer_digests, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 0, $7, COALESCE($8::text[], '{}'), $9, $5, $5)
			RETURNING ` + resetDeviceColumns
		req, err = scanResetDevice(tx.QueryRowContext(ctx, insert,
			newRequestID(), userID, model.ResetDeviceGranted, tokenHash, now, expiresAt,
			profile.Question, pq.Array(profile.Options), pq.Array(profile.AnswerDigests)))
		if err != nil {
			return fmt.Errorf("failed to insert granted request: %w", err)
		}
		result.Request = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Resolve returns the live granted request for token, or nil when the token is
// unknown, consumed, or expired. Absence is not an error.
func (r *ResetDeviceRepository) Resolve(ctx context.Context, token string) (*model.ResetDeviceRequest, error) {
	if token == "" {
		return nil, nil
	}
	query := `
		SELECT ` + resetDeviceColumns + `
		FROM reset_device_requests
		WHERE token_hash = $1 AND state = $2 AND token_expires_at > $3
	`
	req, err := scanResetDevice(r.db.QueryRowContext(ctx, query, auth.HashToken(token), model.ResetDeviceGranted, r.now()))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve reset token: %w", err)
	}
	return req, nil
}

// Consume moves the live request holding token into next and clears the token.
// With observedAttempts >= 0 the write also requires the failed-attempt count
// the caller saw when it resolved the token.
func (r *ResetDeviceRepository) Consume(ctx context.Context, token string, observedAttempts int, next model.ResetDeviceState, reason model.CloseReason) (*model.ResetDeviceRequest, error) {
	if !next.IsTerminal() {
		return nil, ErrInvalidInput
	}
	now := r.now()
	query := `
		UPDATE reset_device_requests
		SET state = $1, close_reason = $2, token_hash = NULL, closed_at = $3, updated_at = $3
		WHERE token_hash = $4 AND state = $5 AND token_expires_at > $3
		  AND ($6::int < 0 OR failed_attempt_count = $6::int)
		RETURNING ` + resetDeviceColumns
	req, err := scanResetDevice(r.db.QueryRowContext(ctx, query,
		next, nullableReason(reason), now, auth.HashToken(token), model.ResetDeviceGranted, observedAttempts))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrTokenAlreadyConsumed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume reset token: %w", err)
	}
	return req, nil
}

// IncrementFailure counts one wrong answer. When the new count reaches
// maxAttempts the same statement closes the request as locked. observedAttempts
// conditions the write the same way as in Consume.
func (r *ResetDeviceRepository) IncrementFailure(ctx context.Context, token string, observedAttempts, maxAttempts int) (*model.ResetDeviceRequest, error) {
	if maxAttempts < 1 {
		return nil, ErrInvalidInput
	}
	now := r.now()
	query := `
		UPDATE reset_device_requests
		SET failed_attempt_count = failed_attempt_count + 1,
		    state = CASE WHEN failed_attempt_count + 1 >= $1 THEN $2 ELSE state END,
		    close_reason = CASE WHEN failed_attempt_count + 1 >= $1 THEN $3 ELSE close_reason END,
		    token_hash = CASE WHEN failed_attempt_count + 1 >= $1 THEN NULL ELSE token_hash END,
		    closed_at = CASE WHEN failed_attempt_count + 1 >= $1 THEN $4 ELSE closed_at END,
		    updated_at = $4
		WHERE token_hash = $5 AND state = $6 AND token_expires_at > $4
		  AND ($7::int < 0 OR failed_attempt_count = $7::int)
		RETURNING ` + resetDeviceColumns
	req, err := scanResetDevice(r.db.QueryRowContext(ctx, query,
		maxAttempts, model.ResetDeviceCancelled, model.CloseReasonAttemptCap, now, auth.HashToken(token),
		model.ResetDeviceGranted, observedAttempts))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrTokenAlreadyConsumed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record failed attempt: %w", err)
	}
	return req, nil
}

// ExpireGranted closes every granted request whose token has expired
func (r *ResetDeviceRepository) ExpireGranted(ctx context.Context) ([]model.ResetDeviceRequest, error) {
	now := r.now()
	query := `
		UPDATE reset_device_requests
		SET state = $1, close_reason = $2, token_hash = NULL, closed_at = $3, updated_at = $3
		WHERE state = $4 AND token_expires_at <= $3
		RETURNING ` + resetDeviceColumns
	rows, err := r.db.QueryContext(ctx, query, model.ResetDeviceCancelled, model.CloseReasonExpired, now, model.ResetDeviceGranted)
	if err != nil {
		return nil, fmt.Errorf("failed to expire granted requests: %w", err)
	}
	defer rows.Close()

	var expired []model.ResetDeviceRequest
	for rows.Next() {
		req, err := scanResetDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired request: %w", err)
		}
		expired = append(expired, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired requests: %w", err)
	}
	return expired, nil
}

// GetByID retrieves a request by ID regardless of state
func (r *ResetDeviceRepository) GetByID(ctx context.Context, id string) (*model.ResetDeviceRequest, error) {
	query := `SELECT ` + resetDeviceColumns + ` FROM reset_device_requests WHERE id = $1`
	return scanResetDevice(r.db.QueryRowContext(ctx, query, id))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanResetDevice scans a single reset device row
func scanResetDevice(row rowScanner) (*model.ResetDeviceRequest, error) {
	var req model.ResetDeviceRequest
	var closeReason sql.NullString
	err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.State,
		&req.TokenHash,
		&req.TokenIssuedAt,
		&req.TokenExpiresAt,
		&req.FailedAttempts,
		&req.Question,
		pq.Array(&req.Options),
		pq.Array(&req.AnswerDigests),
		&closeReason,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.ClosedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reset device request: %w", err)
	}
	req.CloseReason = model.CloseReason(closeReason.String)
	return &req, nil
}

func nullableReason(reason model.CloseReason) interface{} {
	if reason == model.CloseReasonNone {
		return nil
	}
	return string(reason)
}

// newRequestID returns an rdr_ prefixed identifier that fits varchar(32)
func newRequestID() string {
	clean := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "rdr_" + clean[:26]
}
