package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose scopes a codec to one kind of credential. It is carried in the
// aud claim so a token minted for one purpose never decodes under another.
type Purpose string

const (
	PurposeRefresh           Purpose = "refresh"
	PurposePasswordReset     Purpose = "password_reset"
	PurposeEmailVerification Purpose = "email_verification"
)

// Version is written to the kid header when no explicit key id is configured.
const Version = "v1"

const minKeyLength = 32

// ErrInvalid is the single failure outcome of Decode. Malformed, tampered,
// wrongly scoped and expired tokens are indistinguishable to the caller.
var ErrInvalid = errors.New("invalid token")

// Config configures a [Codec].
type Config struct {
	Purpose Purpose
	Key     []byte
	KeyID   string
	Issuer  string

	// RetiredKeys are accepted on Decode only, keyed by kid. They let a
	// deployment rotate Key without invalidating outstanding tokens.
	RetiredKeys map[string][]byte
}

// Claims is the decoded content of a token.
type Claims struct {
	ID        string
	Secret    []byte
	ExpiresAt time.Time
}

type wireClaims struct {
	Secret string `json:"sec"`
	jwt.RegisteredClaims
}

// Codec frames and verifies compact HMAC-SHA256 tokens of the form
// header.payload.signature. It holds no mutable state.
type Codec struct {
	purpose Purpose
	key     []byte
	kid     string
	issuer  string
	retired map[string][]byte
}

// New validates cfg and returns a codec bound to cfg.Purpose.
func New(cfg Config) (*Codec, error) {
	if strings.TrimSpace(string(cfg.Purpose)) == "" {
		return nil, errors.New("token purpose must be set")
	}
	if len(cfg.Key) < minKeyLength {
		return nil, fmt.Errorf("token signing key must be at least %d bytes", minKeyLength)
	}
	kid := strings.TrimSpace(cfg.KeyID)
	if kid == "" {
		kid = Version
	}

	retired := make(map[string][]byte, len(cfg.RetiredKeys))
	for id, key := range cfg.RetiredKeys {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, errors.New("retired key map contains empty kid")
		}
		if id == kid {
			return nil, fmt.Errorf("retired kid %q collides with active kid", id)
		}
		if len(key) < minKeyLength {
			return nil, fmt.Errorf("retired key %q must be at least %d bytes", id, minKeyLength)
		}
		retired[id] = append([]byte(nil), key...)
	}

	return &Codec{
		purpose: cfg.Purpose,
		key:     append([]byte(nil), cfg.Key...),
		kid:     kid,
		issuer:  cfg.Issuer,
		retired: retired,
	}, nil
}

// Purpose reports the audience this codec signs for.
func (c *Codec) Purpose() Purpose {
	return c.purpose
}

// Encode signs claims with the active key.
func (c *Codec) Encode(claims Claims) (string, error) {
	if claims.ID == "" {
		return "", errors.New("token id must be set")
	}
	if len(claims.Secret) == 0 {
		return "", errors.New("token secret must be set")
	}
	if claims.ExpiresAt.IsZero() {
		return "", errors.New("token expiry must be set")
	}

	wc := wireClaims{
		Secret: base64.RawURLEncoding.EncodeToString(claims.Secret),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.ID,
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			Audience:  jwt.ClaimStrings{string(c.purpose)},
			Issuer:    c.issuer,
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, wc)
	t.Header["kid"] = c.kid
	return t.SignedString(c.key)
}

// Decode verifies value at time now and returns its claims. Every failure is
// reported as [ErrInvalid].
func (c *Codec) Decode(value string, now time.Time) (Claims, error) {
	if strings.Count(value, ".") != 2 {
		return Claims{}, ErrInvalid
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(string(c.purpose)),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if c.issuer != "" {
		options = append(options, jwt.WithIssuer(c.issuer))
	}

	var wc wireClaims
	parsed, err := jwt.NewParser(options...).ParseWithClaims(value, &wc, c.keyFor)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalid
	}

	secret, err := base64.RawURLEncoding.DecodeString(wc.Secret)
	if err != nil || len(secret) == 0 || wc.ID == "" || wc.ExpiresAt == nil {
		return Claims{}, ErrInvalid
	}

	return Claims{
		ID:        wc.ID,
		Secret:    secret,
		ExpiresAt: wc.ExpiresAt.Time,
	}, nil
}

func (c *Codec) keyFor(t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	switch {
	case kid == "":
		return nil, errors.New("missing kid")
	case kid == c.kid:
		return c.key, nil
	}
	if key, ok := c.retired[kid]; ok {
		return key, nil
	}
	return nil, errors.New("unknown kid")
}
