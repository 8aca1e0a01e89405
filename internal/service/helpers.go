package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type clientInfoKey struct{}

// ClientInfo describes the caller of an operation for audit entries
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// WithClientInfo attaches caller details that end up on audit entries
func WithClientInfo(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, ClientInfo{IPAddress: ip, UserAgent: userAgent})
}

func clientInfoFrom(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info
}

func generateID(prefix string) string {
	id := uuid.New().String()
	// Remove hyphens and take first 26 chars to fit varchar(32) with prefix
	clean := strings.ReplaceAll(id, "-", "")
	if len(prefix) > 0 {
		return prefix + "_" + clean[:26]
	}
	return clean
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
