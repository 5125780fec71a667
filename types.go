package authcore

import (
	"context"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/session"
)

// UserStore applies the account side effects of a redeemed single-use
// token. sqlstore.DB implements it.
type UserStore interface {
	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error
	MarkEmailVerified(ctx context.Context, userID string, now time.Time) error
}

// PrincipalResolver maps a user id to the principal used by the
// login-by-principal limiter, usually the login email. A UserStore that
// also implements it lets a password reset clear that limiter; otherwise
// the user id is used as the principal.
type PrincipalResolver interface {
	PrincipalFor(ctx context.Context, userID string) (string, error)
}

// PasswordHasher hashes the new password during a reset. password.Argon2
// implements it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// Session is a refresh session row.
type Session = session.Session

// SessionState is the evaluated lifecycle state of a Session.
type SessionState = session.State

// RevokeReason records why a session was revoked.
type RevokeReason = session.RevokeReason

const (
	RevokeRotated        = session.ReasonRotated
	RevokeLogout         = session.ReasonLogout
	RevokePasswordReset  = session.ReasonPasswordReset
	RevokePasswordChange = session.ReasonPasswordChange
	RevokeReuseDetected  = session.ReasonReuseDetected
	RevokeCompromise     = session.ReasonCompromise
	RevokeAdmin          = session.ReasonAdmin
)

// SessionResult is returned by CreateSession and RotateSession. The
// refresh token is shown to the client once and never stored.
type SessionResult struct {
	Session      *Session
	RefreshToken string
}

// IssuedToken is a freshly issued reset or verification token, ready for
// out-of-band delivery.
type IssuedToken = stores.Issued

// TokenRecord is a redeemed single-use token.
type TokenRecord = stores.Record

// RateCategory is one throttled action.
type RateCategory = rate.Category

const (
	RateLoginByPrincipal      = rate.LoginByPrincipal
	RateLoginByIP             = rate.LoginByIP
	RateRegisterByIP          = rate.RegisterByIP
	RatePasswordResetByIP     = rate.PasswordResetByIP
	RateEmailVerificationByIP = rate.EmailVerificationByIP
)

// RateDecision is the limiter's answer for one attempt.
type RateDecision = rate.Decision

// RateFallbackMode selects limiter behavior while Redis is unreachable.
type RateFallbackMode = rate.FallbackMode

const (
	RateFallbackMemory = rate.FallbackMemory
	RateFallbackDeny   = rate.FallbackDeny
)

// ParseRateCategory maps a configuration name such as "login-by-ip" to
// its category.
func ParseRateCategory(name string) (RateCategory, error) {
	return rate.ParseCategory(name)
}

// AuditEvent is one structured audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards audit events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink writes audit events through a zap logger.
type ZapSink = internalaudit.ZapSink
