package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/token"
)

// Issued is handed to the caller for out-of-band delivery.
type Issued struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// Effect runs once, after a token has been marked used. An error matching
// ErrUnavailable hands the token back so the caller can retry with it.
type Effect func(ctx context.Context, rec Record) error

// Service issues and redeems single-use tokens for one purpose.
type Service struct {
	purpose Purpose
	codec   *token.Codec
	repo    TokenRepository
	timeout time.Duration
}

// NewService validates purpose against codec and returns a Service backed by
// repo.
func NewService(purpose Purpose, codec *token.Codec, repo TokenRepository, timeout time.Duration) (*Service, error) {
	if purpose.Name == "" {
		return nil, errors.New("single-use purpose name required")
	}
	if purpose.TTL <= 0 {
		return nil, fmt.Errorf("single-use %s TTL must be > 0", purpose.Name)
	}
	if codec == nil || codec.Purpose() != purpose.Name {
		return nil, fmt.Errorf("single-use %s requires a codec with the same purpose", purpose.Name)
	}
	if repo == nil {
		return nil, errors.New("single-use token repository required")
	}
	return &Service{
		purpose: purpose,
		codec:   codec,
		repo:    repo,
		timeout: timeout,
	}, nil
}

// Purpose returns the purpose the service was built for.
func (s *Service) Purpose() Purpose {
	return s.purpose
}

// Issue creates an independent token row. It is not idempotent; callers
// must not retry it blindly.
func (s *Service) Issue(ctx context.Context, userID, ip, userAgent string, now time.Time) (Issued, error) {
	if userID == "" {
		return Issued{}, errors.New("single-use token user id required")
	}

	id, err := internal.NewID()
	if err != nil {
		return Issued{}, err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return Issued{}, err
	}

	rec := &Record{
		ID:                 id,
		Purpose:            s.purpose.Name,
		UserID:             userID,
		SecretHash:         internal.HashSecret(secret),
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.purpose.TTL),
		RequestedIP:        ip,
		RequestedUserAgent: userAgent,
	}

	value, err := s.codec.Encode(token.Claims{ID: id, Secret: secret, ExpiresAt: rec.ExpiresAt})
	if err != nil {
		return Issued{}, err
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.repo.InsertToken(callCtx, rec); err != nil {
		return Issued{}, unavailable(err)
	}

	return Issued{Token: value, ID: id, ExpiresAt: rec.ExpiresAt}, nil
}

// Consume redeems value. The conditional mark-as-used is the only point that
// decides a winner; effect runs only for that winner. An effect error is
// returned wrapped and the token stays consumed, unless the error matches
// ErrUnavailable, in which case the redemption is released first.
func (s *Service) Consume(
	ctx context.Context,
	value, ip, userAgent string,
	now time.Time,
	effect Effect,
) (Record, error) {
	claims, err := s.codec.Decode(value, now)
	if err != nil {
		return Record{}, token.ErrInvalid
	}

	loadCtx, cancel := s.withTimeout(ctx)
	rec, err := s.repo.LoadToken(loadCtx, claims.ID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, token.ErrInvalid
		}
		return Record{}, unavailable(err)
	}

	if rec.Purpose != s.purpose.Name || !internal.SecretMatches(claims.Secret, rec.SecretHash) {
		return Record{}, token.ErrInvalid
	}
	if rec.Used() {
		return Record{}, ErrAlreadyUsed
	}
	if !now.Before(rec.ExpiresAt) {
		return Record{}, ErrExpired
	}

	red := Redemption{ID: rec.ID, IP: ip, UserAgent: userAgent, Now: now}
	markCtx, cancel := s.withTimeout(ctx)
	won, err := s.repo.MarkTokenUsed(markCtx, red)
	cancel()
	if err != nil {
		return Record{}, unavailable(err)
	}
	if !won {
		return Record{}, ErrAlreadyUsed
	}

	used := now
	rec.UsedAt = &used
	rec.UsedIP = ip
	rec.UsedUserAgent = userAgent

	if effect != nil {
		if err := effect(ctx, *rec); err != nil {
			if errors.Is(err, ErrUnavailable) {
				// A failed release leaves the token used; the caller then
				// needs a new one.
				relCtx, cancel := s.withTimeout(ctx)
				_, _ = s.repo.ReleaseToken(relCtx, red)
				cancel()
			}
			return *rec, fmt.Errorf("%s effect: %w", s.purpose.Name, err)
		}
	}
	return *rec, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
