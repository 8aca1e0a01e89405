package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hostedid/devicereset/internal/database"
	"github.com/hostedid/devicereset/internal/model"
)

// AuditRepository handles audit log persistence
type AuditRepository struct {
	db *database.Postgres
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *database.Postgres) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record inserts a new audit log entry
func (r *AuditRepository) Record(ctx context.Context, entry *model.AuditLog) error {
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil || entry.Metadata == nil {
		metadataJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id,
		    ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		entry.IPAddress,
		entry.UserAgent,
		metadataJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// ListByResource returns the audit trail of one resource, oldest first
func (r *AuditRepository) ListByResource(ctx context.Context, resourceType, resourceID string) ([]model.AuditLog, error) {
	query := `
		SELECT id, user_id, action, resource_type, resource_id, ip_address, user_agent, metadata, created_at
		FROM audit_logs
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []model.AuditLog
	for rows.Next() {
		var entry model.AuditLog
		var metadataJSON []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.Action,
			&entry.ResourceType,
			&entry.ResourceID,
			&entry.IPAddress,
			&entry.UserAgent,
			&metadataJSON,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &entry.Metadata)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}
	return logs, nil
}

// PurgeBefore deletes audit entries older than cutoff
func (r *AuditRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}
