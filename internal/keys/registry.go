// Package keys holds the rotating admin signing key set.
//
// The registry keeps one active key id used for signing and the full set of
// published keys used for verification. Rotation is publish-then-retire:
// add the new key, switch the active kid, and drop the old key once every
// token signed with it has expired.
package keys

import (
	"crypto"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
)

// Signing algorithms as used in the JWT "alg" header.
const (
	AlgEdDSA = "EdDSA"
	AlgES256 = "ES256"
	AlgRS256 = "RS256"
)

// privateMembers are JWK members that must never leave the process.
var privateMembers = []string{"d", "p", "q", "dp", "dq", "qi", "oth"}

// Key is one entry of the key set.
type Key struct {
	ID     string
	Alg    string
	Public crypto.PublicKey
	Signer crypto.Signer // nil for verify-only entries

	jwk map[string]any
}

// JWKS is the public key-set document.
type JWKS struct {
	Keys []map[string]any `json:"keys"`
}

// Registry is safe for concurrent use. Construct one per process.
type Registry struct {
	mu      sync.RWMutex
	keys    map[string]*Key
	active  string
	loadErr error
}

// NewRegistry parses jwksJSON and selects activeKid. A parse failure does not
// panic: it is kept and reported as errs.ErrMisconfigured by every accessor.
func NewRegistry(jwksJSON []byte, activeKid string) *Registry {
	r := &Registry{}
	_ = r.Reload(jwksJSON, activeKid)
	return r
}

// Reload atomically replaces the key set and active key id.
func (r *Registry) Reload(jwksJSON []byte, activeKid string) error {
	parsed, err := parseSet(jwksJSON)
	if err == nil && activeKid == "" {
		err = fmt.Errorf("active kid not configured: %w", errs.ErrMisconfigured)
	}
	if err == nil {
		if k, ok := parsed[activeKid]; !ok {
			err = fmt.Errorf("active kid %q not in key set: %w", activeKid, errs.ErrMisconfigured)
		} else if k.Signer == nil {
			err = fmt.Errorf("active kid %q has no private key: %w", activeKid, errs.ErrMisconfigured)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.keys, r.active, r.loadErr = nil, "", err
		return err
	}
	r.keys, r.active, r.loadErr = parsed, activeKid, nil
	return nil
}

// Err reports the last load error, if any.
func (r *Registry) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadErr
}

// Active returns the current signing key.
func (r *Registry) Active() (*Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	k, ok := r.keys[r.active]
	if !ok {
		return nil, fmt.Errorf("no active key: %w", errs.ErrMisconfigured)
	}
	return k, nil
}

// Lookup resolves a verification key by kid. Unknown kids are an
// authentication failure, an unloaded registry is a configuration failure.
func (r *Registry) Lookup(kid string) (*Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	if r.keys == nil {
		return nil, fmt.Errorf("key set empty: %w", errs.ErrMisconfigured)
	}
	k, ok := r.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q: %w", kid, errs.ErrUnauthorized)
	}
	return k, nil
}

// PublicJWKS returns the key set with private members stripped, sorted by kid.
func (r *Registry) PublicJWKS() (JWKS, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.loadErr != nil {
		return JWKS{}, r.loadErr
	}
	ids := make([]string, 0, len(r.keys))
	for id := range r.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := JWKS{Keys: make([]map[string]any, 0, len(ids))}
	for _, id := range ids {
		k := r.keys[id]
		pub := PublicOnly(k.jwk)
		pub["kid"] = k.ID
		pub["alg"] = k.Alg
		pub["use"] = "sig"
		out.Keys = append(out.Keys, pub)
	}
	return out, nil
}

func parseSet(jwksJSON []byte) (map[string]*Key, error) {
	if len(jwksJSON) == 0 {
		return nil, fmt.Errorf("key set not configured: %w", errs.ErrMisconfigured)
	}
	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.Unmarshal(jwksJSON, &doc); err != nil {
		return nil, fmt.Errorf("key set: %v: %w", err, errs.ErrMisconfigured)
	}
	if len(doc.Keys) == 0 {
		return nil, fmt.Errorf("key set has no keys: %w", errs.ErrMisconfigured)
	}
	out := make(map[string]*Key, len(doc.Keys))
	for i, raw := range doc.Keys {
		k, err := parseJWK(raw)
		if err != nil {
			return nil, fmt.Errorf("key[%d]: %v: %w", i, err, errs.ErrMisconfigured)
		}
		if _, dup := out[k.ID]; dup {
			return nil, fmt.Errorf("duplicate kid %q: %w", k.ID, errs.ErrMisconfigured)
		}
		out[k.ID] = k
	}
	return out, nil
}
