package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyedHasher produces tenant-scoped HMAC digests for identifiers that must
// not appear in logs or counters in clear text (card ids, IP addresses).
type KeyedHasher struct {
	secret []byte
}

// NewKeyedHasher constructs a hasher from a server-side secret.
func NewKeyedHasher(secret []byte) *KeyedHasher {
	return &KeyedHasher{secret: append([]byte(nil), secret...)}
}

// tenantKey derives a per-tenant key via HKDF-SHA256 with the tenant id as info.
func (h *KeyedHasher) tenantKey(tenantID string) []byte {
	r := hkdf.New(sha256.New, h.secret, []byte("lokaltreu/pii/v1"), []byte(tenantID))
	key := make([]byte, 32)
	// hkdf only fails after 255*32 bytes
	_, _ = io.ReadFull(r, key)
	return key
}

// Hash returns hex HMAC-SHA256(tenantKey, value).
func (h *KeyedHasher) Hash(tenantID, value string) string {
	mac := hmac.New(sha256.New, h.tenantKey(tenantID))
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
