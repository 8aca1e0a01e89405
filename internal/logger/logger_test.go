package logger

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/hostedid/devicereset/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestAuditLine(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "json").WithComponent("audit")

	userID := "usr_1"
	resource := model.AuditResourceResetDevice
	log.Audit(&model.AuditLog{
		ID:           "aud_1",
		UserID:       &userID,
		Action:       model.AuditActionResetDeviceCancelled,
		ResourceType: &resource,
		Metadata:     map[string]interface{}{"state": "cancelled"},
		CreatedAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})

	line := decodeLine(t, &buf)
	assert.Equal(t, true, line["audit"])
	assert.Equal(t, "audit", line["component"])
	assert.Equal(t, "usr_1", line["user_id"])
	assert.Equal(t, model.AuditActionResetDeviceCancelled, line["action"])
	assert.NotContains(t, line, "resource_id")
	assert.Equal(t, map[string]interface{}{"state": "cancelled"}, line["metadata"])
}

func TestRequestLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "json")

	log.Request("GET", "/health", 200, time.Millisecond, "127.0.0.1")
	assert.Zero(t, buf.Len(), "info lines are below the configured level")

	log.Request("POST", "/api/v1/reset-device/answer", 500, time.Millisecond, "127.0.0.1")
	line := decodeLine(t, &buf)
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, float64(500), line["status"])
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "loud", "json")

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	log.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
