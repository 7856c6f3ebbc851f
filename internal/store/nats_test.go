package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVKeyMapping_RoundTrips(t *testing.T) {
	paths := []string{
		"matches/AB12CD34",
		"matches/AB12CD34/connections",
		"matches/AB12CD34/connections/550e8400-e29b-41d4-a716-446655440000",
	}
	for _, p := range paths {
		key := kvKey(p)
		assert.NotContains(t, key, "/")
		assert.Equal(t, p, kvPath(key))
	}
	assert.Equal(t, "matches.AB12CD34", kvKey("matches/AB12CD34"))
}

func TestBuildSnapshot(t *testing.T) {
	cache := map[string][]byte{
		"matches/M1":                    []byte(`{"matchId":"M1"}`),
		"matches/M1/connections/ref":    []byte(`{"role":"referee"}`),
		"matches/M1/connections/spec1":  []byte(`{"role":"spectator"}`),
		"matches/M1/connections/x/deep": []byte(`{}`),
		"matches/M2":                    []byte(`{"matchId":"M2"}`),
	}

	snap := buildSnapshot("matches/M1/connections", cache)
	require.Nil(t, snap.Value)
	// Direct children only; grandchildren and siblings stay out.
	require.Len(t, snap.Children, 2)
	assert.Contains(t, snap.Children, "ref")
	assert.Contains(t, snap.Children, "spec1")

	root := buildSnapshot("matches/M1", cache)
	assert.Equal(t, []byte(`{"matchId":"M1"}`), root.Value)
	// The connections nodes are grandchildren of the match; "connections"
	// itself holds no value, so the match node reports no direct children.
	assert.Empty(t, root.Children)
}

func TestBuildSnapshot_EmptyCache(t *testing.T) {
	snap := buildSnapshot("matches/M1", map[string][]byte{})
	assert.Nil(t, snap.Value)
	assert.Empty(t, snap.Children)
}
