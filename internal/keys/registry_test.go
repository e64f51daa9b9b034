package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
)

func edJWK(t *testing.T, kid string) map[string]any {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return Ed25519JWK(kid, priv)
}

func setJSON(t *testing.T, keys ...map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"keys": keys})
	require.NoError(t, err)
	return b
}

func enc(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func TestRegistry_ActiveAndLookup(t *testing.T) {
	t.Parallel()

	k1, k2 := edJWK(t, "k1"), edJWK(t, "k2")
	r := NewRegistry(setJSON(t, k1, PublicOnly(k2)), "k1")
	require.NoError(t, r.Err())

	act, err := r.Active()
	require.NoError(t, err)
	require.Equal(t, "k1", act.ID)
	require.Equal(t, AlgEdDSA, act.Alg)
	require.NotNil(t, act.Signer)

	got, err := r.Lookup("k2")
	require.NoError(t, err)
	require.Nil(t, got.Signer)

	_, err = r.Lookup("nope")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestRegistry_ConfigurationFailures(t *testing.T) {
	t.Parallel()

	k1 := edJWK(t, "k1")
	cases := map[string]*Registry{
		"empty set":      NewRegistry(nil, "k1"),
		"garbage":        NewRegistry([]byte("{"), "k1"),
		"no active kid":  NewRegistry(setJSON(t, k1), ""),
		"unknown active": NewRegistry(setJSON(t, k1), "k9"),
		"public only":    NewRegistry(setJSON(t, PublicOnly(k1)), "k1"),
	}
	for name, r := range cases {
		_, err := r.Active()
		require.ErrorIs(t, err, errs.ErrMisconfigured, name)
		_, err = r.Lookup("k1")
		require.ErrorIs(t, err, errs.ErrMisconfigured, name)
		_, err = r.PublicJWKS()
		require.ErrorIs(t, err, errs.ErrMisconfigured, name)
	}
}

func TestRegistry_ReloadRotates(t *testing.T) {
	t.Parallel()

	k1, k2 := edJWK(t, "k1"), edJWK(t, "k2")
	r := NewRegistry(setJSON(t, k1), "k1")
	require.NoError(t, r.Reload(setJSON(t, k1, k2), "k2"))

	act, err := r.Active()
	require.NoError(t, err)
	require.Equal(t, "k2", act.ID)
	_, err = r.Lookup("k1")
	require.NoError(t, err)

	require.NoError(t, r.Reload(setJSON(t, k2), "k2"))
	_, err = r.Lookup("k1")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestRegistry_PublicJWKSStripsPrivateMembers(t *testing.T) {
	t.Parallel()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	rsaKey.Precompute()
	rsaJWK := map[string]any{
		"kty": "RSA", "kid": "rsa-1",
		"n":  enc(rsaKey.N.Bytes()),
		"e":  enc([]byte{1, 0, 1}),
		"d":  enc(rsaKey.D.Bytes()),
		"p":  enc(rsaKey.Primes[0].Bytes()),
		"q":  enc(rsaKey.Primes[1].Bytes()),
		"dp": enc(rsaKey.Precomputed.Dp.Bytes()),
		"dq": enc(rsaKey.Precomputed.Dq.Bytes()),
		"qi": enc(rsaKey.Precomputed.Qinv.Bytes()),
	}

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ecJWK := map[string]any{
		"kty": "EC", "crv": "P-256", "kid": "ec-1",
		"x": enc(ecKey.X.FillBytes(make([]byte, 32))),
		"y": enc(ecKey.Y.FillBytes(make([]byte, 32))),
		"d": enc(ecKey.D.FillBytes(make([]byte, 32))),
	}

	r := NewRegistry(setJSON(t, edJWK(t, "ed-1"), rsaJWK, ecJWK), "ed-1")
	require.NoError(t, r.Err())

	set, err := r.PublicJWKS()
	require.NoError(t, err)
	require.Len(t, set.Keys, 3)

	algs := map[string]string{}
	for _, k := range set.Keys {
		for _, m := range privateMembers {
			require.NotContains(t, k, m, k["kid"])
		}
		algs[k["kid"].(string)] = k["alg"].(string)
	}
	require.Equal(t, map[string]string{"ed-1": AlgEdDSA, "rsa-1": AlgRS256, "ec-1": AlgES256}, algs)

	ec, err := r.Lookup("ec-1")
	require.NoError(t, err)
	require.NotNil(t, ec.Signer)
}
