package crypto

import "encoding/base64"

// OpaqueTokenLen is the number of random bytes behind every single-use token.
const OpaqueTokenLen = 32

// NewOpaqueToken returns a base64url token and the sha256 hex hash under which it is stored.
func NewOpaqueToken() (token, hash string, err error) {
	b, err := RandBytes(OpaqueTokenLen)
	if err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, HashToken(token), nil
}

// HashToken is the lookup hash of a raw token.
func HashToken(token string) string {
	return SHA256Hex([]byte(token))
}
