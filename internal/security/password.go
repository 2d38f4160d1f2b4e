package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrPasswordMismatch = errors.New("password mismatch")

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
	// CompareDummy burns a comparison so unknown accounts take as long as known ones.
	CompareDummy(password string)
}

type BcryptHasher struct {
	cost      int
	dummyHash []byte
}

// NewBcryptHasher clamps cost into bcrypt's accepted range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("tenant-session-engine-dummy"), cost)
	if err != nil {
		dummy = nil
	}
	return &BcryptHasher{cost: cost, dummyHash: dummy}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *BcryptHasher) Compare(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return err
	}
	return nil
}

func (h *BcryptHasher) CompareDummy(password string) {
	if len(h.dummyHash) == 0 {
		return
	}
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}
