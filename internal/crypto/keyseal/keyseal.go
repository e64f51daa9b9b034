// Package keyseal protects private key material at rest with a passphrase.
//
// Sealed format (base64 std, armored in a PEM block "LOKALTREU SEALED KEY"):
// salt(16) || nonce(24) || XChaCha20-Poly1305(kek, plaintext, aad=label)
// where kek = Argon2id(passphrase, salt).
package keyseal

import (
	"crypto/rand"
	"encoding/pem"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	SaltLen = 16
	KEKLen  = 32

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1

	blockType = "LOKALTREU SEALED KEY"
)

var (
	ErrSealedTooShort = errors.New("sealed key too short")
	ErrNotSealed      = errors.New("not a sealed key block")
)

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKEK derives a key-encryption key from passphrase and salt using Argon2id.
func DeriveKEK(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KEKLen)
}

// Seal encrypts plaintext under a passphrase; label binds the ciphertext to its purpose.
func Seal(passphrase, plaintext []byte, label string) ([]byte, error) {
	salt, err := randBytes(SaltLen)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(DeriveKEK(passphrase, salt))
	if err != nil {
		return nil, err
	}
	nonce, err := randBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, SaltLen+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, []byte(label))...)
	return out, nil
}

// Open reverses Seal.
func Open(passphrase, sealed []byte, label string) ([]byte, error) {
	if len(sealed) < SaltLen+chacha20poly1305.NonceSizeX {
		return nil, ErrSealedTooShort
	}
	salt := sealed[:SaltLen]
	nonce := sealed[SaltLen : SaltLen+chacha20poly1305.NonceSizeX]
	ct := sealed[SaltLen+chacha20poly1305.NonceSizeX:]
	aead, err := chacha20poly1305.NewX(DeriveKEK(passphrase, salt))
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ct, []byte(label))
}

// SealPEM seals a private key PEM and armors the result.
func SealPEM(passphrase, keyPEM []byte, label string) ([]byte, error) {
	sealed, err := Seal(passphrase, keyPEM, label)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:    blockType,
		Headers: map[string]string{"Label": label},
		Bytes:   sealed,
	}), nil
}

// IsSealed reports whether b holds a sealed key block.
func IsSealed(b []byte) bool {
	block, _ := pem.Decode(b)
	return block != nil && block.Type == blockType
}

// OpenPEM returns the private key PEM inside a sealed block.
func OpenPEM(passphrase, armored []byte) ([]byte, error) {
	block, _ := pem.Decode(armored)
	if block == nil || block.Type != blockType {
		return nil, ErrNotSealed
	}
	return Open(passphrase, block.Bytes, block.Headers["Label"])
}
