package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"go.uber.org/zap"
)

// IssueResetToken creates a password-reset token for userID. Each call
// creates an independent token; earlier ones stay valid until used or
// expired. Deliver Token out of band and never log it.
func (e *Engine) IssueResetToken(ctx context.Context, userID string) (IssuedToken, error) {
	return e.issue(ctx, e.resets, userID, MetricResetIssued, auditEventResetIssued)
}

// IssueVerificationToken creates an email-verification token for userID.
func (e *Engine) IssueVerificationToken(ctx context.Context, userID string) (IssuedToken, error) {
	return e.issue(ctx, e.verifications, userID, MetricVerificationIssued, auditEventVerifyIssued)
}

func (e *Engine) issue(ctx context.Context, svc *stores.Service, userID string, metric MetricID, event string) (IssuedToken, error) {
	if err := e.ready(); err != nil {
		return IssuedToken{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return IssuedToken{}, fmt.Errorf("%w: user id required", ErrInvalidArgument)
	}

	issued, err := svc.Issue(ctx, userID, clientIPFromContext(ctx), userAgentFromContext(ctx), e.clock())
	if err != nil {
		err = e.fail(err)
		e.emitAudit(ctx, event, false, auditFields{userID: userID}, err, nil)
		return IssuedToken{}, err
	}

	e.metricInc(metric)
	e.emitAudit(ctx, event, true, auditFields{userID: userID, tokenID: issued.ID}, nil, nil)
	return issued, nil
}

// ConsumeResetToken redeems a reset token and sets newPassword. On success
// the password hash is replaced, every session of the user is revoked with
// reason password-reset, and the user's login-by-principal limiter is
// cleared.
//
// A password that fails policy returns ErrPasswordPolicy and leaves the
// token usable. Sessions are revoked before the hash changes. When either
// store is unavailable the redemption is released and the same token can be
// retried; any other failure after the mark leaves the token used.
func (e *Engine) ConsumeResetToken(ctx context.Context, resetToken, newPassword string) (TokenRecord, error) {
	if err := e.ready(); err != nil {
		return TokenRecord{}, err
	}
	start := time.Now()
	defer e.observe(MetricConsumeLatency, start)
	now := e.clock()

	// Reject garbage before paying for Argon2.
	if _, err := e.resetCodec.Decode(resetToken, now); err != nil {
		e.metricInc(MetricResetFailure)
		e.emitAudit(ctx, auditEventResetConsumed, false, auditFields{}, ErrInvalidToken, nil)
		return TokenRecord{}, ErrInvalidToken
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			err = fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		e.metricInc(MetricResetFailure)
		e.emitAudit(ctx, auditEventResetConsumed, false, auditFields{}, err, nil)
		return TokenRecord{}, err
	}

	rec, err := e.resets.Consume(ctx, resetToken, clientIPFromContext(ctx), userAgentFromContext(ctx), now,
		func(ctx context.Context, rec stores.Record) error {
			return effectError(e.applyReset(ctx, rec.UserID, hash, now))
		})
	if err != nil {
		err = e.fail(err)
		e.metricInc(MetricResetFailure)
		e.emitAudit(ctx, auditEventResetConsumed, false, auditFields{userID: rec.UserID, tokenID: rec.ID}, err, nil)
		return TokenRecord{}, err
	}

	e.metricInc(MetricResetConsumed)
	e.emitAudit(ctx, auditEventResetConsumed, true, auditFields{userID: rec.UserID, tokenID: rec.ID}, nil, nil)
	return rec, nil
}

func (e *Engine) applyReset(ctx context.Context, userID, hash string, now time.Time) error {
	// Revoke first: a failed hash update then leaves the old password with
	// no live sessions, never a new password beside them.
	n, err := e.sessions.RevokeAllForUser(ctx, userID, RevokePasswordReset, now)
	if err != nil {
		return err
	}
	e.metricInc(MetricSessionRevokedAll)

	callCtx, cancel := e.userCallContext(ctx)
	err = e.users.UpdatePasswordHash(callCtx, userID, hash, now)
	cancel()
	if err != nil {
		return userStoreError(err)
	}
	e.logger.Info("authcore: password reset revoked sessions",
		zap.String("user_id", userID),
		zap.Int("count", n),
	)

	principal := userID
	if r, ok := e.users.(PrincipalResolver); ok {
		callCtx, cancel := e.userCallContext(ctx)
		p, err := r.PrincipalFor(callCtx, userID)
		cancel()
		if err == nil && p != "" {
			principal = p
		}
	}
	// Limiter failures are absorbed by its fallback policy.
	_ = e.limiter.RecordSuccess(ctx, RateLoginByPrincipal, principal)
	return nil
}

// ConsumeVerificationToken redeems a verification token and marks the
// user's email verified.
func (e *Engine) ConsumeVerificationToken(ctx context.Context, verifyToken string) (TokenRecord, error) {
	if err := e.ready(); err != nil {
		return TokenRecord{}, err
	}
	start := time.Now()
	defer e.observe(MetricConsumeLatency, start)
	now := e.clock()

	rec, err := e.verifications.Consume(ctx, verifyToken, clientIPFromContext(ctx), userAgentFromContext(ctx), now,
		func(ctx context.Context, rec stores.Record) error {
			callCtx, cancel := e.userCallContext(ctx)
			defer cancel()
			return effectError(userStoreError(e.users.MarkEmailVerified(callCtx, rec.UserID, now)))
		})
	if err != nil {
		err = e.fail(err)
		e.metricInc(MetricVerificationFailure)
		e.emitAudit(ctx, auditEventVerifyConsumed, false, auditFields{userID: rec.UserID, tokenID: rec.ID}, err, nil)
		return TokenRecord{}, err
	}

	e.metricInc(MetricVerificationConsumed)
	e.emitAudit(ctx, auditEventVerifyConsumed, true, auditFields{userID: rec.UserID, tokenID: rec.ID}, nil, nil)
	return rec, nil
}

func (e *Engine) userCallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.Store.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.Store.Timeout)
}

// effectError tags store failures inside a token effect so the redemption
// is released.
func effectError(err error) error {
	if err == nil || errors.Is(err, stores.ErrUnavailable) {
		return err
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, session.ErrUnavailable) {
		return fmt.Errorf("%w: %w", stores.ErrUnavailable, err)
	}
	return err
}

func userStoreError(err error) error {
	if err == nil || errors.Is(err, ErrUserNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
