package model

import "time"

// AuditLog represents an audit log entry
type AuditLog struct {
	ID           string                 `json:"id"`
	UserID       *string                `json:"userId,omitempty"`
	Action       string                 `json:"action"`
	ResourceType *string                `json:"resourceType,omitempty"`
	ResourceID   *string                `json:"resourceId,omitempty"`
	IPAddress    *string                `json:"ipAddress,omitempty"`
	UserAgent    *string                `json:"userAgent,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// Audit action constants, one per reset-device transition
const (
	AuditActionResetDeviceRequested     = "RESET_DEVICE_REQUESTED"
	AuditActionResetDeviceGranted       = "RESET_DEVICE_GRANTED"
	AuditActionResetDeviceSuperseded    = "RESET_DEVICE_SUPERSEDED"
	AuditActionResetDeviceCancelled     = "RESET_DEVICE_CANCELLED"
	AuditActionResetDeviceReportedFraud = "RESET_DEVICE_REPORTED_FRAUD"
	AuditActionResetDeviceCorrectAnswer = "RESET_DEVICE_CORRECT_SECURITY_ANSWER"
	AuditActionResetDeviceWrongAnswer   = "RESET_DEVICE_WRONG_SECURITY_ANSWER"
	AuditActionResetDeviceExpired       = "RESET_DEVICE_EXPIRED"
)

// AuditResourceResetDevice is the resource type recorded for reset-device events
const AuditResourceResetDevice = "reset_device_request"
