package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor for native account passwords.
//
// COST TUNING RULE OF THUMB:
// Set cost so that hashing takes ~200–300ms on production hardware.
const defaultCost = 12

// maxPasswordLen is bcrypt's input limit. Longer input is rejected, not truncated.
const maxPasswordLen = 72

// ErrInvalidPassword means the password does not match the stored hash.
var ErrInvalidPassword = errors.New("auth: invalid password")

// PasswordService provides bcrypt hashing and verification for native
// accounts. Cost is a field so tests can use the bcrypt minimum.
type PasswordService struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest uses the given (low) cost. Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash hashes plaintext with bcrypt. The result embeds salt and cost.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordLen {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", maxPasswordLen)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash and ErrInvalidPassword when
// it does not. Comparison is constant time.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// VerifyNothing burns one bcrypt comparison. Login calls it for unknown
// usernames so response time does not reveal which usernames exist.
func (p *PasswordService) VerifyNothing(plaintext string) {
	p.dummyOnce.Do(func() {
		p.dummy, _ = bcrypt.GenerateFromPassword([]byte("fixjam-dummy-password"), p.cost)
	})
	_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(plaintext))
}
