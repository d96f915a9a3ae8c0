package session

import (
	"context"
	"log/slog"
)

// AuditEvent identifies the type of session-lifecycle action being logged.
type AuditEvent string

const (
	AuditInitialized    AuditEvent = "initialized"
	AuditLoginSuccess   AuditEvent = "login_success"
	AuditLoginFailure   AuditEvent = "login_failure"
	AuditRoleMismatch   AuditEvent = "login_role_mismatch"
	AuditLogout         AuditEvent = "logout"
	AuditAuthCheckFail  AuditEvent = "auth_check_failed"
	AuditSessionExpired AuditEvent = "session_expired"
)

// auditLogger wraps slog.Logger for structured session audit logging.
type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "session"),
	}
}

func (al *auditLogger) log(ctx context.Context, event AuditEvent, attrs ...slog.Attr) {
	baseAttrs := append([]slog.Attr{
		slog.String("event", string(event)),
	}, attrs...)
	al.logger.LogAttrs(ctx, slog.LevelInfo, "session", baseAttrs...)
}
