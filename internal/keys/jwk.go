package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

func member(m map[string]any, name string) string {
	s, _ := m[name].(string)
	return s
}

func b64(m map[string]any, name string) ([]byte, error) {
	s := member(m, name)
	if s == "" {
		return nil, fmt.Errorf("missing %q", name)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("member %q: %w", name, err)
	}
	return b, nil
}

func bigInt(m map[string]any, name string) (*big.Int, error) {
	b, err := b64(m, name)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// inferAlg follows the JWK "alg" when present, otherwise kty/crv.
func inferAlg(m map[string]any) string {
	if a := member(m, "alg"); a != "" {
		return a
	}
	switch {
	case member(m, "kty") == "OKP" && member(m, "crv") == "Ed25519":
		return AlgEdDSA
	case member(m, "kty") == "EC" && member(m, "crv") == "P-256":
		return AlgES256
	default:
		return AlgRS256
	}
}

func parseJWK(m map[string]any) (*Key, error) {
	kid := member(m, "kid")
	if kid == "" {
		return nil, errors.New("missing kid")
	}
	k := &Key{ID: kid, Alg: inferAlg(m), jwk: m}
	_, hasPrivate := m["d"]

	switch k.Alg {
	case AlgEdDSA:
		if member(m, "kty") != "OKP" || member(m, "crv") != "Ed25519" {
			return nil, errors.New("EdDSA requires OKP/Ed25519")
		}
		x, err := b64(m, "x")
		if err != nil {
			return nil, err
		}
		if len(x) != ed25519.PublicKeySize {
			return nil, errors.New("bad Ed25519 x length")
		}
		k.Public = ed25519.PublicKey(x)
		if hasPrivate {
			seed, err := b64(m, "d")
			if err != nil {
				return nil, err
			}
			if len(seed) != ed25519.SeedSize {
				return nil, errors.New("bad Ed25519 d length")
			}
			priv := ed25519.NewKeyFromSeed(seed)
			if !priv.Public().(ed25519.PublicKey).Equal(k.Public) {
				return nil, errors.New("Ed25519 d does not match x")
			}
			k.Signer = priv
		}
	case AlgES256:
		if member(m, "kty") != "EC" || member(m, "crv") != "P-256" {
			return nil, errors.New("ES256 requires EC/P-256")
		}
		x, err := bigInt(m, "x")
		if err != nil {
			return nil, err
		}
		y, err := bigInt(m, "y")
		if err != nil {
			return nil, err
		}
		pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
		if !pub.Curve.IsOnCurve(x, y) {
			return nil, errors.New("EC point not on curve")
		}
		k.Public = pub
		if hasPrivate {
			d, err := bigInt(m, "d")
			if err != nil {
				return nil, err
			}
			k.Signer = &ecdsa.PrivateKey{PublicKey: *pub, D: d}
		}
	case AlgRS256:
		if member(m, "kty") != "RSA" {
			return nil, errors.New("RS256 requires RSA")
		}
		n, err := bigInt(m, "n")
		if err != nil {
			return nil, err
		}
		e, err := bigInt(m, "e")
		if err != nil {
			return nil, err
		}
		pub := &rsa.PublicKey{N: n, E: int(e.Int64())}
		k.Public = pub
		if hasPrivate {
			d, err := bigInt(m, "d")
			if err != nil {
				return nil, err
			}
			p, err := bigInt(m, "p")
			if err != nil {
				return nil, err
			}
			q, err := bigInt(m, "q")
			if err != nil {
				return nil, err
			}
			priv := &rsa.PrivateKey{PublicKey: *pub, D: d, Primes: []*big.Int{p, q}}
			if err := priv.Validate(); err != nil {
				return nil, err
			}
			priv.Precompute()
			k.Signer = priv
		}
	default:
		return nil, fmt.Errorf("unsupported alg %q", k.Alg)
	}
	return k, nil
}

// Ed25519JWK renders an Ed25519 private key as a JWK with the given kid.
func Ed25519JWK(kid string, priv ed25519.PrivateKey) map[string]any {
	return map[string]any{
		"kty": "OKP",
		"crv": "Ed25519",
		"kid": kid,
		"alg": AlgEdDSA,
		"x":   base64.RawURLEncoding.EncodeToString(priv.Public().(ed25519.PublicKey)),
		"d":   base64.RawURLEncoding.EncodeToString(priv.Seed()),
	}
}

// PublicOnly strips private members from a JWK.
func PublicOnly(jwk map[string]any) map[string]any {
	out := make(map[string]any, len(jwk))
	for k, v := range jwk {
		out[k] = v
	}
	for _, m := range privateMembers {
		delete(out, m)
	}
	return out
}
