package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/session"
	"go.uber.org/zap"
)

// CreateSession starts a new refresh lineage for userID. Client IP, user
// agent and device id are read from ctx.
func (e *Engine) CreateSession(ctx context.Context, userID string, rememberMe bool) (*SessionResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidArgument)
	}

	sess, refresh, err := e.sessions.Create(ctx, session.CreateParams{
		UserID:     userID,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		DeviceID:   deviceIDFromContext(ctx),
		RememberMe: rememberMe,
	}, e.clock())
	if err != nil {
		err = e.fail(err)
		e.emitAudit(ctx, auditEventSessionCreated, false, auditFields{userID: userID}, err, nil)
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, auditFields{userID: userID, sessionID: sess.ID}, nil, func() map[string]string {
		return map[string]string{"remember_me": strconv.FormatBool(rememberMe)}
	})
	return &SessionResult{Session: sess, RefreshToken: refresh}, nil
}

// RotateSession exchanges refreshToken for a successor. The presented
// token is dead afterwards; presenting it again revokes the whole lineage
// and returns ErrReuseDetected.
func (e *Engine) RotateSession(ctx context.Context, refreshToken string) (*SessionResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer e.observe(MetricRotateLatency, start)

	sess, refresh, err := e.sessions.Rotate(ctx, refreshToken, clientIPFromContext(ctx), userAgentFromContext(ctx), e.clock())
	if err != nil {
		err = e.fail(err)

		var reuse *session.ReuseError
		if errors.As(err, &reuse) {
			e.metricInc(MetricSessionReuseDetected)
			e.emitAudit(ctx, auditEventReuseDetected, false, auditFields{userID: reuse.UserID, sessionID: reuse.SessionID}, err, func() map[string]string {
				return map[string]string{"revoked": strconv.Itoa(reuse.Revoked)}
			})
			return nil, err
		}

		e.metricInc(MetricSessionRotateFailure)
		e.emitAudit(ctx, auditEventSessionRotateFailure, false, auditFields{}, err, nil)
		return nil, err
	}

	e.metricInc(MetricSessionRotated)
	e.emitAudit(ctx, auditEventSessionRotated, true, auditFields{userID: sess.UserID, sessionID: sess.ID}, nil, func() map[string]string {
		return map[string]string{"parent_id": sess.ParentID}
	})
	return &SessionResult{Session: sess, RefreshToken: refresh}, nil
}

// RevokeSession revokes the session behind refreshToken. Revoking an
// already revoked session succeeds.
func (e *Engine) RevokeSession(ctx context.Context, refreshToken string, reason RevokeReason) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !reason.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownReason, reason)
	}

	sess, err := e.sessions.RevokeToken(ctx, refreshToken, reason, e.clock())
	if err != nil {
		err = e.fail(err)
		e.emitAudit(ctx, auditEventSessionRevoked, false, auditFields{}, err, nil)
		return err
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, auditFields{userID: sess.UserID, sessionID: sess.ID}, nil, func() map[string]string {
		return map[string]string{"reason": string(reason)}
	})
	return nil
}

// RevokeSessionByID revokes one session by its public id, e.g. from a
// "signed-in devices" list.
func (e *Engine) RevokeSessionByID(ctx context.Context, sessionID string, reason RevokeReason) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !reason.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownReason, reason)
	}
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id required", ErrInvalidArgument)
	}

	if err := e.sessions.Revoke(ctx, sessionID, reason, e.clock()); err != nil {
		err = e.fail(err)
		e.emitAudit(ctx, auditEventSessionRevoked, false, auditFields{sessionID: sessionID}, err, nil)
		return err
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, auditFields{sessionID: sessionID}, nil, func() map[string]string {
		return map[string]string{"reason": string(reason)}
	})
	return nil
}

// RevokeAllSessions revokes every live session of userID and returns how
// many rows changed. Rotations racing with it fail with ErrSessionRevoked.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string, reason RevokeReason) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if !reason.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownReason, reason)
	}
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: user id required", ErrInvalidArgument)
	}

	n, err := e.sessions.RevokeAllForUser(ctx, userID, reason, e.clock())
	if err != nil {
		err = e.fail(err)
		e.emitAudit(ctx, auditEventSessionsRevokedAll, false, auditFields{userID: userID}, err, nil)
		return 0, err
	}

	e.metricInc(MetricSessionRevokedAll)
	e.logger.Info("authcore: sessions revoked",
		zap.String("user_id", userID),
		zap.String("reason", string(reason)),
		zap.Int("count", n),
	)
	e.emitAudit(ctx, auditEventSessionsRevokedAll, true, auditFields{userID: userID}, nil, func() map[string]string {
		return map[string]string{"reason": string(reason), "count": strconv.Itoa(n)}
	})
	return n, nil
}

// ListSessions returns the live sessions of userID, oldest first.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]*Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	out, err := e.sessions.ListActiveForUser(ctx, userID, e.clock())
	if err != nil {
		return nil, e.fail(err)
	}
	return out, nil
}
