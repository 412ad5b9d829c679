package core

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes is bcrypt's input limit.
const maxPasswordBytes = 72

// PasswordHasher wraps bcrypt with a fixed cost.
type PasswordHasher struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewPasswordHasher returns a hasher using cost, or bcrypt.DefaultCost when cost is 0.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns the salted bcrypt hash of plain.
func (h *PasswordHasher) Hash(plain string) (string, error) {
	if len(plain) > maxPasswordBytes {
		return "", validationError("password must be at most %d bytes", maxPasswordBytes)
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare reports whether plain matches hash.
func (h *PasswordHasher) Compare(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// CompareDummy burns one bcrypt comparison of the same cost so that lookups for
// unknown accounts take as long as a wrong-password check. It always reports false.
func (h *PasswordHasher) CompareDummy(plain string) bool {
	h.dummyOnce.Do(func() {
		h.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("benchmark-hub/dummy"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(plain))
	return false
}
