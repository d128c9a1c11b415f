package account

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	SchemeBcrypt    = "bcrypt"
	SchemePlaintext = "plaintext"
)

// ErrMismatch is returned by Credentials.Verify for a wrong password.
var ErrMismatch = errors.New("credentials: mismatch")

// Credentials turns a plaintext password into its stored form and checks a
// login attempt against it.
type Credentials interface {
	Hash(plain string) (string, error)
	Verify(stored, plain string) error
}

// NewCredentials returns the implementation for scheme.
func NewCredentials(scheme string) (Credentials, error) {
	switch scheme {
	case SchemeBcrypt, "":
		return Bcrypt{Cost: bcrypt.DefaultCost}, nil
	case SchemePlaintext:
		return Plaintext{}, nil
	default:
		return nil, fmt.Errorf("credentials: unknown scheme %q", scheme)
	}
}

// Bcrypt stores salted bcrypt hashes.
type Bcrypt struct {
	Cost int
}

func (b Bcrypt) Hash(plain string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("credentials: hash: %w", err)
	}
	return string(hash), nil
}

func (b Bcrypt) Verify(stored, plain string) error {
	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	if err != nil {
		return fmt.Errorf("credentials: verify: %w", err)
	}
	return nil
}

// Plaintext stores the password as given. It exists for databases created by
// deployments that never hashed.
type Plaintext struct{}

func (Plaintext) Hash(plain string) (string, error) { return plain, nil }

func (Plaintext) Verify(stored, plain string) error {
	if subtle.ConstantTimeCompare([]byte(stored), []byte(plain)) != 1 {
		return ErrMismatch
	}
	return nil
}
