package authcore

import (
	"context"
	"errors"
)

const (
	auditEventSessionCreated       = "session_created"
	auditEventSessionRotated       = "session_rotated"
	auditEventSessionRotateFailure = "session_rotate_failure"
	auditEventReuseDetected        = "refresh_reuse_detected"
	auditEventSessionRevoked       = "session_revoked"
	auditEventSessionsRevokedAll   = "sessions_revoked_all"
	auditEventResetIssued          = "password_reset_issued"
	auditEventResetConsumed        = "password_reset_consumed"
	auditEventVerifyIssued         = "email_verification_issued"
	auditEventVerifyConsumed       = "email_verification_consumed"
	auditEventRateLimited          = "rate_limit_triggered"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidToken     AuditErrorCode = "invalid_token"
	auditErrTokenExpired     AuditErrorCode = "token_expired"
	auditErrTokenUsed        AuditErrorCode = "token_already_used"
	auditErrSessionRevoked   AuditErrorCode = "session_revoked"
	auditErrSessionExpired   AuditErrorCode = "session_expired"
	auditErrSessionNotFound  AuditErrorCode = "session_not_found"
	auditErrReuseDetected    AuditErrorCode = "refresh_reuse"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrUserNotFound     AuditErrorCode = "user_not_found"
	auditErrPasswordPolicy   AuditErrorCode = "password_policy"
	auditErrInvalidArgument  AuditErrorCode = "invalid_argument"
	auditErrStoreUnavailable AuditErrorCode = "store_unavailable"
	auditErrInternal         AuditErrorCode = "internal_error"
)

type auditFields struct {
	userID    string
	sessionID string
	tokenID   string
	category  string
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	f auditFields,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.clock(),
		EventType: eventType,
		UserID:    f.userID,
		SessionID: f.sessionID,
		TokenID:   f.tokenID,
		Category:  f.category,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrStoreUnavailable
	case errors.Is(err, ErrReuseDetected):
		return auditErrReuseDetected
	case errors.Is(err, ErrRateLimitExceeded):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenAlreadyUsed):
		return auditErrTokenUsed
	case errors.Is(err, ErrSessionRevoked):
		return auditErrSessionRevoked
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrUnknownReason):
		return auditErrInvalidArgument
	default:
		return auditErrInternal
	}
}
