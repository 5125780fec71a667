package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a Repository when no row has the given id.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned by Repository.RotateSession when the
	// conditional revoke of the old row matched nothing.
	ErrConflict = errors.New("session rotation conflict")
)

// RotateParams describes one rotation step.
type RotateParams struct {
	OldID     string
	OldHash   string
	Successor *Session
	IP        string
	Now       time.Time
}

// Repository is the durable store behind [Store]. Every conditional method
// must be atomic at the row level.
type Repository interface {
	LoadSession(ctx context.Context, id string) (*Session, error)
	InsertSession(ctx context.Context, s *Session) error

	// RotateSession revokes OldID with reason rotated, sets its successor and
	// last-used fields, and inserts Successor, all in one transaction. The
	// revoke only applies while OldID is unrevoked and still carries OldHash;
	// otherwise nothing is written and ErrConflict is returned.
	RotateSession(ctx context.Context, p RotateParams) error

	// RevokeSession revokes id if it is not revoked yet. The bool reports
	// whether this call performed the revoke.
	RevokeSession(ctx context.Context, id string, reason RevokeReason, now time.Time) (bool, error)

	// MarkSessionReuse sets reuse-detected-at if it is still unset.
	MarkSessionReuse(ctx context.Context, id string, now time.Time) (bool, error)

	// LineageCompromised reports whether any row of lineageID carries
	// reuse-detected-at.
	LineageCompromised(ctx context.Context, lineageID string) (bool, error)

	// RevokeSessionsForUser revokes every unrevoked, unexpired row of userID
	// in a single statement and returns how many rows changed.
	RevokeSessionsForUser(ctx context.Context, userID string, reason RevokeReason, now time.Time) (int, error)

	ListSessionsForUser(ctx context.Context, userID string, now time.Time) ([]*Session, error)
}
