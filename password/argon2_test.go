package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   10,
	}
}

func newHasher(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	h, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newHasher(t, fastConfig())

	hash, err := h.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}
	if strings.Contains(hash, "=$") || strings.HasSuffix(hash, "=") {
		t.Fatalf("expected unpadded base64: %s", hash)
	}

	ok, err := h.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("P@ssw0rd-ascii", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
}

func TestSaltIsRandom(t *testing.T) {
	h := newHasher(t, fastConfig())
	a, _ := h.Hash("same-password")
	b, _ := h.Hash("same-password")
	if a == b {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestLengthBounds(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxLength = 64
	h := newHasher(t, cfg)

	if _, err := h.Hash("short"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if _, err := h.Hash(strings.Repeat("a", 65)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	exact := strings.Repeat("b", 64)
	hash, err := h.Hash(exact)
	if err != nil {
		t.Fatalf("max-length password rejected: %v", err)
	}
	if ok, err := h.Verify(exact, hash); err != nil || !ok {
		t.Fatalf("Verify failed for max-length password: ok=%v err=%v", ok, err)
	}
	if _, err := h.Verify(strings.Repeat("c", 65), hash); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected Verify to reject long input, got %v", err)
	}

	def := newHasher(t, fastConfig())
	if _, err := def.Hash(strings.Repeat("d", DefaultMaxLength+1)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected default cap of %d bytes, got %v", DefaultMaxLength, err)
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := newHasher(t, fastConfig())
	hash, err := weak.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if stale, err := weak.NeedsRehash(hash); err != nil || stale {
		t.Fatalf("same params must not need rehash, stale=%v err=%v", stale, err)
	}

	stronger := fastConfig()
	stronger.Time = 2
	if stale, err := newHasher(t, stronger).NeedsRehash(hash); err != nil || !stale {
		t.Fatalf("weaker params must need rehash, stale=%v err=%v", stale, err)
	}
}

func TestLegacyBcrypt(t *testing.T) {
	h := newHasher(t, fastConfig())
	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}

	if ok, err := h.Verify("legacy-password", string(legacy)); err != nil || !ok {
		t.Fatalf("expected bcrypt match, ok=%v err=%v", ok, err)
	}
	if ok, err := h.Verify("wrong-password", string(legacy)); err != nil || ok {
		t.Fatalf("expected bcrypt mismatch, ok=%v err=%v", ok, err)
	}
	if stale, err := h.NeedsRehash(string(legacy)); err != nil || !stale {
		t.Fatalf("bcrypt hashes must need rehash, stale=%v err=%v", stale, err)
	}
}

func TestMalformedHashes(t *testing.T) {
	h := newHasher(t, fastConfig())
	good, err := h.Hash("version-test")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	cases := map[string]struct {
		hash string
		want error
	}{
		"not phc":      {"not-a-phc-hash", ErrUnsupportedHash},
		"argon2i":      {strings.Replace(good, "argon2id", "argon2i", 1), ErrUnsupportedHash},
		"version 18":   {strings.Replace(good, "$v=19$", "$v=18$", 1), ErrUnsupportedHash},
		"missing part": {good[:strings.LastIndex(good, "$")], ErrMalformedHash},
		"low memory":   {strings.Replace(good, "m=8192", "m=1024", 1), ErrMalformedHash},
		"bad salt":     {strings.Replace(good, "$m=8192,t=1,p=1$", "$m=8192,t=1,p=1$!!!", 1), ErrMalformedHash},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := h.Verify("version-test", tc.hash); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestConfigValidation(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := fastConfig()
	bad.Memory = 1024
	if _, err := NewArgon2(bad); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
	bad = fastConfig()
	bad.SaltLength = 8
	if _, err := NewArgon2(bad); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
	bad = fastConfig()
	bad.MaxLength = 5
	if _, err := NewArgon2(bad); err == nil {
		t.Fatal("expected max below min to be rejected")
	}
}
