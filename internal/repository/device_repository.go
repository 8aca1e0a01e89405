package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hostedid/devicereset/internal/database"
	"github.com/hostedid/devicereset/internal/model"
)

// DeviceRepository handles the device and second-factor rows touched by a reset
type DeviceRepository struct {
	db *database.Postgres
}

// NewDeviceRepository creates a new DeviceRepository
func NewDeviceRepository(db *database.Postgres) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// GetByUserID returns all devices of a user, most recently active first
func (r *DeviceRepository) GetByUserID(ctx context.Context, userID string) ([]model.Device, error) {
	query := `
		SELECT id, user_id, name, user_agent, is_trusted, session_active, compromised_at,
		       last_activity, created_at, updated_at
		FROM devices
		WHERE user_id = $1
		ORDER BY last_activity DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device rows: %w", err)
	}
	return devices, nil
}

// ClearSecondFactor removes every enrolled second factor of the user so the
// next sign-in enrolls a new device. Returns the number of removed methods.
func (r *DeviceRepository) ClearSecondFactor(ctx context.Context, userID string) (int64, error) {
	var removed int64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM mfa_methods WHERE user_id = $1`, userID)
		if err != nil {
			return fmt.Errorf("failed to delete mfa methods: %w", err)
		}
		removed, _ = result.RowsAffected()

		_, err = tx.ExecContext(ctx, `
			UPDATE devices
			SET is_trusted = FALSE, updated_at = NOW()
			WHERE user_id = $1 AND is_trusted = TRUE
		`, userID)
		if err != nil {
			return fmt.Errorf("failed to revoke device trust: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// MarkCompromised flags every device of the user as compromised, ending its
// session and trust. Returns the number of devices flagged.
func (r *DeviceRepository) MarkCompromised(ctx context.Context, userID string, at time.Time) (int64, error) {
	query := `
		UPDATE devices
		SET compromised_at = $1, is_trusted = FALSE, session_active = FALSE, updated_at = $1
		WHERE user_id = $2 AND compromised_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, at, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark devices compromised: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// scanDevice scans a single device row
func scanDevice(row rowScanner) (*model.Device, error) {
	var device model.Device
	err := row.Scan(
		&device.ID,
		&device.UserID,
		&device.Name,
		&device.UserAgent,
		&device.IsTrusted,
		&device.SessionActive,
		&device.CompromisedAt,
		&device.LastActivity,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan device: %w", err)
	}
	return &device, nil
}
