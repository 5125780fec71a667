package stores

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/token"
)

var (
	ErrNotFound    = errors.New("single-use token not found")
	ErrAlreadyUsed = errors.New("single-use token already used")
	ErrExpired     = errors.New("single-use token expired")
	ErrUnavailable = errors.New("single-use token store unavailable")
)

// Purpose parameterizes a [Service]. Name is both the persisted purpose
// column and the codec audience.
type Purpose struct {
	Name token.Purpose
	TTL  time.Duration
}

var (
	PasswordReset = Purpose{Name: token.PurposePasswordReset, TTL: 30 * time.Minute}
	EmailVerify   = Purpose{Name: token.PurposeEmailVerification, TTL: 24 * time.Hour}
)

// Record is one persisted single-use token. SecretHash is the hex SHA-256 of
// the raw secret.
type Record struct {
	ID                 string
	Purpose            token.Purpose
	UserID             string
	SecretHash         string
	CreatedAt          time.Time
	ExpiresAt          time.Time
	UsedAt             *time.Time
	RequestedIP        string
	RequestedUserAgent string
	UsedIP             string
	UsedUserAgent      string
}

func (r *Record) Used() bool {
	return r.UsedAt != nil
}

// Redemption is written by TokenRepository.MarkTokenUsed.
type Redemption struct {
	ID        string
	IP        string
	UserAgent string
	Now       time.Time
}

// TokenRepository is the durable store behind [Service].
type TokenRepository interface {
	LoadToken(ctx context.Context, id string) (*Record, error)
	InsertToken(ctx context.Context, r *Record) error

	// MarkTokenUsed sets the used fields only while used-at is null. The
	// bool reports whether this call won.
	MarkTokenUsed(ctx context.Context, r Redemption) (bool, error)

	// ReleaseToken clears the used fields only while used-at still equals
	// r.Now, undoing this caller's MarkTokenUsed.
	ReleaseToken(ctx context.Context, r Redemption) (bool, error)
}
