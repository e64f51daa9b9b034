// Package crypto holds the hashing, signing and token primitives shared by
// the session, device, ledger and audit layers.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for admin passwords.
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	// PasswordSaltLen is the per-admin salt size.
	PasswordSaltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// HashPassword derives the Argon2id key of password under salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// NewPasswordHash draws a fresh salt and hashes password with it.
func NewPasswordHash(password []byte) (hash, salt []byte, err error) {
	salt, err = RandBytes(PasswordSaltLen)
	if err != nil {
		return nil, nil, err
	}
	return HashPassword(password, salt), salt, nil
}

// VerifyPassword compares in constant time. An empty stored hash never
// matches.
func VerifyPassword(password, salt, expected []byte) bool {
	if len(expected) == 0 {
		return false
	}
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

var (
	decoyOnce sync.Once
	decoySalt []byte
	decoyHash []byte
)

// BurnPasswordCheck spends the cost of one verification and reports false.
// Login calls it for unknown accounts so their response time matches a
// wrong password.
func BurnPasswordCheck(password []byte) bool {
	decoyOnce.Do(func() {
		decoySalt = make([]byte, PasswordSaltLen)
		decoyHash = HashPassword([]byte("lokaltreu-decoy"), decoySalt)
	})
	_ = VerifyPassword(password, decoySalt, decoyHash)
	return false
}
