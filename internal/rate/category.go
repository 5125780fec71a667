package rate

import (
	"fmt"
	"time"
)

// Category is the closed set of throttled actions.
type Category uint8

const (
	LoginByPrincipal Category = iota + 1
	LoginByIP
	RegisterByIP
	PasswordResetByIP
	EmailVerificationByIP
)

var categoryNames = map[Category]string{
	LoginByPrincipal:      "login-by-principal",
	LoginByIP:             "login-by-ip",
	RegisterByIP:          "register-by-ip",
	PasswordResetByIP:     "password-reset-by-ip",
	EmailVerificationByIP: "email-verification-by-ip",
}

// Categories lists every known category in declaration order.
func Categories() []Category {
	return []Category{LoginByPrincipal, LoginByIP, RegisterByIP, PasswordResetByIP, EmailVerificationByIP}
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

func (c Category) Valid() bool {
	_, ok := categoryNames[c]
	return ok
}

// ParseCategory maps a configuration name to its Category.
func ParseCategory(name string) (Category, error) {
	for c, n := range categoryNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
}

// Rule bounds one category: more than MaxAttempts hits inside Window sets a
// block lasting Block.
type Rule struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

func (r Rule) validate(c Category) error {
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("rate limit %s MaxAttempts must be > 0", c)
	}
	if r.Window <= 0 {
		return fmt.Errorf("rate limit %s Window must be > 0", c)
	}
	if r.Block <= 0 {
		return fmt.Errorf("rate limit %s Block must be > 0", c)
	}
	return nil
}
