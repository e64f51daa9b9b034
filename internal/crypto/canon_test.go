package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON_SortsKeysAtEveryLevel(t *testing.T) {
	t.Parallel()

	type inner struct {
		Z string `json:"z"`
		A int    `json:"a"`
	}
	v := struct {
		B     string         `json:"b"`
		A     inner          `json:"a"`
		List  []any          `json:"list"`
		Empty string         `json:"empty,omitempty"`
		M     map[string]any `json:"m"`
	}{
		B:    "x<y",
		A:    inner{Z: "z", A: 1},
		List: []any{map[string]any{"k2": 2, "k1": true}, nil},
		M:    map[string]any{"n": 1.5},
	}

	got, err := CanonicalJSON(v)
	require.NoError(t, err)
	require.Equal(t, `{"a":{"a":1,"z":"z"},"b":"x<y","list":[{"k1":true,"k2":2},null],"m":{"n":1.5}}`, string(got))
}

func TestCanonicalSHA256_OrderIndependent(t *testing.T) {
	t.Parallel()

	a, err := CanonicalSHA256(map[string]any{"x": 1, "y": "2"})
	require.NoError(t, err)
	b, err := CanonicalSHA256(struct {
		Y string `json:"y"`
		X int    `json:"x"`
	}{Y: "2", X: 1})
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}
