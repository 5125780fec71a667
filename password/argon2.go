package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrTooShort        = errors.New("password too short")
	ErrTooLong         = errors.New("password too long")
	ErrMalformedHash   = errors.New("malformed password hash")
	ErrUnsupportedHash = errors.New("unsupported password hash")
)

const (
	floorMemoryKB  uint32 = 8 * 1024
	floorSaltBytes uint32 = 16
	floorKeyBytes  uint32 = 16
	argonPrefix           = "$argon2id$"

	// DefaultMaxLength caps the input fed to Argon2 when Config.MaxLength
	// is zero.
	DefaultMaxLength = 1024
)

var b64 = base64.RawStdEncoding

// Config holds Argon2id cost parameters and the accepted password length
// range in bytes.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	MaxLength   int
}

// DefaultConfig is 64 MiB, 3 passes, 2 lanes.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   10,
		MaxLength:   DefaultMaxLength,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Memory < floorMemoryKB:
		return fmt.Errorf("password memory must be >= %d KiB", floorMemoryKB)
	case c.Time < 1:
		return errors.New("password time must be >= 1")
	case c.Parallelism < 1:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < floorSaltBytes:
		return fmt.Errorf("password salt length must be >= %d", floorSaltBytes)
	case c.KeyLength < floorKeyBytes:
		return fmt.Errorf("password key length must be >= %d", floorKeyBytes)
	case c.MinLength < 1:
		return errors.New("password min length must be >= 1")
	case c.MaxLength != 0 && c.MaxLength < c.MinLength:
		return errors.New("password max length must be >= min length")
	}
	return nil
}

// Argon2 hashes with Argon2id and verifies both Argon2id and legacy bcrypt
// hashes.
type Argon2 struct {
	cfg Config
}

func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	return &Argon2{cfg: cfg}, nil
}

// Hash returns a PHC string. Bytes are hashed exactly as given.
func (a *Argon2) Hash(password string) (string, error) {
	if len(password) < a.cfg.MinLength {
		return "", fmt.Errorf("%w: need at least %d bytes", ErrTooShort, a.cfg.MinLength)
	}
	if len(password) > a.cfg.MaxLength {
		return "", ErrTooLong
	}

	salt := make([]byte, a.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, a.cfg.Time, a.cfg.Memory, a.cfg.Parallelism, a.cfg.KeyLength)

	return encodePHC(phc{
		memory:      a.cfg.Memory,
		time:        a.cfg.Time,
		parallelism: a.cfg.Parallelism,
		salt:        salt,
		key:         key,
	}), nil
}

// Verify reports whether password matches encoded. A mismatch is (false,
// nil); an unparseable hash is an error.
func (a *Argon2) Verify(password, encoded string) (bool, error) {
	if len(password) > a.cfg.MaxLength {
		return false, ErrTooLong
	}
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
		}
	}

	p, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(key, p.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced by bcrypt or with
// weaker parameters than the current config.
func (a *Argon2) NeedsRehash(encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return true, nil
	}
	p, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	return p.memory < a.cfg.Memory ||
		p.time < a.cfg.Time ||
		p.parallelism < a.cfg.Parallelism ||
		uint32(len(p.key)) != a.cfg.KeyLength, nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func encodePHC(p phc) string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argonPrefix, argon2.Version, p.memory, p.time, p.parallelism,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key))
}

func decodePHC(encoded string) (phc, error) {
	if !strings.HasPrefix(encoded, argonPrefix) {
		return phc{}, ErrUnsupportedHash
	}
	parts := strings.Split(strings.TrimPrefix(encoded, argonPrefix), "$")
	if len(parts) != 4 {
		return phc{}, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[0], "v=%d", &version); err != nil {
		return phc{}, ErrMalformedHash
	}
	if version != argon2.Version {
		return phc{}, fmt.Errorf("%w: argon2 version %d", ErrUnsupportedHash, version)
	}

	var (
		p        phc
		parallel uint32
	)
	if _, err := fmt.Sscanf(parts[1], "m=%d,t=%d,p=%d", &p.memory, &p.time, &parallel); err != nil {
		return phc{}, ErrMalformedHash
	}
	if p.memory < floorMemoryKB || p.time < 1 || parallel < 1 || parallel > 255 {
		return phc{}, ErrMalformedHash
	}
	p.parallelism = uint8(parallel)

	var err error
	if p.salt, err = decodeB64(parts[2]); err != nil || uint32(len(p.salt)) < floorSaltBytes {
		return phc{}, ErrMalformedHash
	}
	if p.key, err = decodeB64(parts[3]); err != nil || len(p.key) == 0 {
		return phc{}, ErrMalformedHash
	}
	return p, nil
}

// decodeB64 accepts padded input too, for hashes written with StdEncoding.
func decodeB64(s string) ([]byte, error) {
	return b64.DecodeString(strings.TrimRight(s, "="))
}
