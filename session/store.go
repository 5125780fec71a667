package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/token"
	"go.uber.org/zap"
)

var (
	ErrRevoked       = errors.New("session revoked")
	ErrExpired       = errors.New("session expired")
	ErrReuseDetected = errors.New("refresh token reuse detected")
	ErrUnavailable   = errors.New("session store unavailable")
)

const (
	defaultMaxLineageHops = 1024
	maxRotateAttempts     = 3
)

// ReuseError carries the context of a reuse detection. It matches
// ErrReuseDetected under errors.Is.
type ReuseError struct {
	SessionID string
	UserID    string
	Revoked   int
	cause     error
}

func (e *ReuseError) Error() string {
	if e.cause != nil {
		return ErrReuseDetected.Error() + ": " + e.cause.Error()
	}
	return ErrReuseDetected.Error()
}

func (e *ReuseError) Unwrap() []error {
	if e.cause != nil {
		return []error{ErrReuseDetected, e.cause}
	}
	return []error{ErrReuseDetected}
}

// Config holds lifetimes and bounds for a [Store].
type Config struct {
	DefaultTTL     time.Duration
	RememberMeTTL  time.Duration
	MaxLineageHops int
	Timeout        time.Duration
}

// CreateParams describes a new login.
type CreateParams struct {
	UserID     string
	IP         string
	UserAgent  string
	DeviceID   string
	RememberMe bool
}

// Store issues, rotates and revokes refresh sessions on top of a
// [Repository]. Refresh tokens are framed with a refresh-purpose codec.
type Store struct {
	repo   Repository
	codec  *token.Codec
	cfg    Config
	logger *zap.Logger
}

// NewStore wires a Store. The codec must be scoped to token.PurposeRefresh.
func NewStore(repo Repository, codec *token.Codec, cfg Config, logger *zap.Logger) (*Store, error) {
	if repo == nil {
		return nil, errors.New("session repository required")
	}
	if codec == nil || codec.Purpose() != token.PurposeRefresh {
		return nil, errors.New("session store requires a refresh token codec")
	}
	if cfg.DefaultTTL <= 0 {
		return nil, errors.New("session DefaultTTL must be > 0")
	}
	if cfg.RememberMeTTL <= 0 {
		cfg.RememberMeTTL = cfg.DefaultTTL
	}
	if cfg.MaxLineageHops <= 0 {
		cfg.MaxLineageHops = defaultMaxLineageHops
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		repo:   repo,
		codec:  codec,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Create inserts a new lineage root and returns it with its framed refresh
// token.
func (s *Store) Create(ctx context.Context, p CreateParams, now time.Time) (*Session, string, error) {
	if p.UserID == "" {
		return nil, "", errors.New("session user id required")
	}

	id, err := internal.NewID()
	if err != nil {
		return nil, "", err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return nil, "", err
	}

	sess := &Session{
		ID:          id,
		UserID:      p.UserID,
		RefreshHash: internal.HashSecret(secret),
		DeviceID:    p.DeviceID,
		UserAgent:   p.UserAgent,
		CreatedIP:   p.IP,
		LastUsedIP:  p.IP,
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(s.ttlFor(p.RememberMe)),
		RememberMe:  p.RememberMe,
	}
	sess.LineageID = sess.ID

	value, err := s.frame(sess, secret)
	if err != nil {
		return nil, "", err
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.repo.InsertSession(callCtx, sess); err != nil {
		return nil, "", unavailable(err)
	}

	return sess.Clone(), value, nil
}

// Rotate exchanges a presented refresh token for a successor session.
//
// A replayed or mismatched secret triggers lineage revocation and returns a
// [*ReuseError]. Losing a concurrent rotation lands in the same path, since
// the winner's rotation marks the row as rotated.
func (s *Store) Rotate(ctx context.Context, presented, ip, userAgent string, now time.Time) (*Session, string, error) {
	claims, err := s.codec.Decode(presented, now)
	if err != nil {
		return nil, "", token.ErrInvalid
	}

	for attempt := 0; attempt < maxRotateAttempts; attempt++ {
		cur, err := s.load(ctx, claims.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, "", token.ErrInvalid
			}
			return nil, "", err
		}

		switch cur.StateAt(now) {
		case StateRevoked:
			if cur.WasRotated() {
				return nil, "", s.reuse(ctx, cur, now)
			}
			return nil, "", ErrRevoked
		case StateExpired:
			return nil, "", ErrExpired
		}

		if !internal.SecretMatches(claims.Secret, cur.RefreshHash) {
			return nil, "", s.reuse(ctx, cur, now)
		}

		// A flagged row anywhere in the lineage means an earlier containment
		// did not finish; finish it instead of extending the chain.
		compromised, err := s.lineageCompromised(ctx, cur)
		if err != nil {
			return nil, "", err
		}
		if compromised {
			return nil, "", s.reuse(ctx, cur, now)
		}

		next, value, err := s.successorOf(cur, ip, now)
		if err != nil {
			return nil, "", err
		}

		callCtx, cancel := s.withTimeout(ctx)
		err = s.repo.RotateSession(callCtx, RotateParams{
			OldID:     cur.ID,
			OldHash:   cur.RefreshHash,
			Successor: next,
			IP:        ip,
			Now:       now,
		})
		cancel()

		switch {
		case err == nil:
			if userAgent != "" && cur.UserAgent != "" && userAgent != cur.UserAgent {
				s.logger.Info("authcore: refresh presented from a different user agent",
					zap.String("session_id", cur.ID),
					zap.String("user_id", cur.UserID),
				)
			}
			return next.Clone(), value, nil
		case errors.Is(err, ErrConflict):
			continue
		default:
			return nil, "", unavailable(err)
		}
	}

	return nil, "", ErrRevoked
}

// Revoke marks one session revoked. Revoking an already revoked session is a
// no-op.
func (s *Store) Revoke(ctx context.Context, id string, reason RevokeReason, now time.Time) error {
	if !reason.Valid() {
		return fmt.Errorf("unknown revoke reason %q", reason)
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.repo.RevokeSession(callCtx, id, reason, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return unavailable(err)
	}
	return nil
}

// RevokeToken decodes a presented refresh token and revokes its session.
func (s *Store) RevokeToken(ctx context.Context, presented string, reason RevokeReason, now time.Time) (*Session, error) {
	claims, err := s.codec.Decode(presented, now)
	if err != nil {
		return nil, token.ErrInvalid
	}
	cur, err := s.load(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, token.ErrInvalid
		}
		return nil, err
	}
	if !internal.SecretMatches(claims.Secret, cur.RefreshHash) {
		return nil, token.ErrInvalid
	}
	if err := s.Revoke(ctx, cur.ID, reason, now); err != nil {
		return nil, err
	}
	return cur, nil
}

// RevokeAllForUser revokes every live session of userID.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string, reason RevokeReason, now time.Time) (int, error) {
	if !reason.Valid() {
		return 0, fmt.Errorf("unknown revoke reason %q", reason)
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.repo.RevokeSessionsForUser(callCtx, userID, reason, now)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// ListActiveForUser returns the live sessions of userID at now.
func (s *Store) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]*Session, error) {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	out, err := s.repo.ListSessionsForUser(callCtx, userID, now)
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	return s.load(ctx, id)
}

func (s *Store) lineageCompromised(ctx context.Context, cur *Session) (bool, error) {
	if cur.ReuseDetectedAt != nil {
		return true, nil
	}
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	compromised, err := s.repo.LineageCompromised(callCtx, cur.Lineage())
	if err != nil {
		return false, unavailable(err)
	}
	return compromised, nil
}

// reuse flags cur and revokes its lineage. When any write fails the
// returned error also matches ErrUnavailable; the flag makes the next
// rotation anywhere in the lineage resume the revoke.
func (s *Store) reuse(ctx context.Context, cur *Session, now time.Time) error {
	rerr := &ReuseError{SessionID: cur.ID, UserID: cur.UserID}

	callCtx, cancel := s.withTimeout(ctx)
	_, err := s.repo.MarkSessionReuse(callCtx, cur.ID, now)
	cancel()
	if err != nil {
		rerr.cause = unavailable(err)
	}

	revoked, err := s.revokeLineage(ctx, cur, now)
	rerr.Revoked = revoked
	if err != nil && rerr.cause == nil {
		rerr.cause = err
	}

	s.logger.Warn("authcore: refresh token reuse detected",
		zap.String("session_id", cur.ID),
		zap.String("user_id", cur.UserID),
		zap.String("parent_id", cur.ParentID),
		zap.String("successor_id", cur.SuccessorID),
		zap.Int("revoked", revoked),
		zap.Error(rerr.cause),
	)
	return rerr
}

// revokeLineage walks parent pointers to the root, then follows successor
// pointers to the tail, revoking every unrevoked row on the way. Each row is
// re-read after its revoke so a successor inserted by a racing rotation is
// still reached.
func (s *Store) revokeLineage(ctx context.Context, start *Session, now time.Time) (int, error) {
	root := start
	for hops := 0; root.ParentID != ""; hops++ {
		if hops >= s.cfg.MaxLineageHops {
			// Rows above this point all have successors and are already revoked.
			s.logger.Warn("authcore: lineage ancestor walk truncated",
				zap.String("session_id", start.ID),
				zap.Int("hops", hops),
			)
			break
		}
		parent, err := s.load(ctx, root.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return 0, err
		}
		root = parent
	}

	revoked := 0
	seen := make(map[string]struct{})
	cur := root
	for hops := 0; cur != nil; hops++ {
		if hops >= 2*s.cfg.MaxLineageHops {
			s.logger.Warn("authcore: lineage descendant walk truncated",
				zap.String("session_id", start.ID),
				zap.Int("hops", hops),
			)
			break
		}
		if _, dup := seen[cur.ID]; dup {
			s.logger.Warn("authcore: lineage cycle detected", zap.String("session_id", cur.ID))
			break
		}
		seen[cur.ID] = struct{}{}

		callCtx, cancel := s.withTimeout(ctx)
		ok, err := s.repo.RevokeSession(callCtx, cur.ID, ReasonReuseDetected, now)
		cancel()
		if err != nil && !errors.Is(err, ErrNotFound) {
			return revoked, unavailable(err)
		}
		if ok {
			revoked++
		}

		fresh, err := s.load(ctx, cur.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return revoked, err
		}
		if fresh.SuccessorID == "" {
			break
		}

		next, err := s.load(ctx, fresh.SuccessorID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return revoked, err
		}
		cur = next
	}

	return revoked, nil
}

func (s *Store) successorOf(cur *Session, ip string, now time.Time) (*Session, string, error) {
	id, err := internal.NewID()
	if err != nil {
		return nil, "", err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return nil, "", err
	}

	next := &Session{
		ID:          id,
		UserID:      cur.UserID,
		RefreshHash: internal.HashSecret(secret),
		DeviceID:    cur.DeviceID,
		UserAgent:   cur.UserAgent,
		CreatedIP:   cur.CreatedIP,
		LastUsedIP:  ip,
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(s.ttlFor(cur.RememberMe)),
		ParentID:    cur.ID,
		LineageID:   cur.Lineage(),
		RememberMe:  cur.RememberMe,
	}

	value, err := s.frame(next, secret)
	if err != nil {
		return nil, "", err
	}
	return next, value, nil
}

func (s *Store) frame(sess *Session, secret []byte) (string, error) {
	return s.codec.Encode(token.Claims{
		ID:        sess.ID,
		Secret:    secret,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (s *Store) load(ctx context.Context, id string) (*Session, error) {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	sess, err := s.repo.LoadSession(callCtx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return sess, nil
}

func (s *Store) ttlFor(rememberMe bool) time.Duration {
	if rememberMe {
		return s.cfg.RememberMeTTL
	}
	return s.cfg.DefaultTTL
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
