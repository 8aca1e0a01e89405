package logger

import (
	"io"
	"os"
	"time"

	"github.com/hostedid/devicereset/internal/model"
	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the fields this service logs everywhere
type Logger struct {
	zerolog.Logger
}

// New creates a Logger on stdout
func New(level string, format string) *Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a Logger on w. "text" and "console" select the
// human-readable writer; anything else is JSON. Unknown levels fall back to info.
func NewWithWriter(w io.Writer, level string, format string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	switch format {
	case "text", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return &Logger{Logger: zerolog.New(w).Level(lvl).With().Timestamp().Caller().Logger()}
}

// Nop returns a Logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

func (l *Logger) with(key, value string) *Logger {
	return &Logger{Logger: l.With().Str(key, value).Logger()}
}

// WithRequestID tags every line with the HTTP request ID
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.with("request_id", requestID)
}

// WithComponent tags every line with the emitting component
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// Request logs one served HTTP request. Server errors are logged at error level.
func (l *Logger) Request(method, path string, status int, took time.Duration, clientIP string) {
	event := l.Info()
	if status >= 500 {
		event = l.Error()
	}
	event.
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("duration", took).
		Str("client_ip", clientIP).
		Msg("HTTP request")
}

// Audit writes an audit entry as a single structured line
func (l *Logger) Audit(entry *model.AuditLog) {
	event := l.Info().
		Bool("audit", true).
		Str("audit_id", entry.ID).
		Str("action", entry.Action).
		Time("occurred_at", entry.CreatedAt)

	for key, value := range map[string]*string{
		"user_id":       entry.UserID,
		"resource_type": entry.ResourceType,
		"resource_id":   entry.ResourceID,
		"ip_address":    entry.IPAddress,
	} {
		if value != nil {
			event = event.Str(key, *value)
		}
	}
	if len(entry.Metadata) > 0 {
		event = event.Interface("metadata", entry.Metadata)
	}

	event.Msg("audit log")
}
