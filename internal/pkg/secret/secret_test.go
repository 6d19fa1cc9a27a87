package secret

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndCompare(t *testing.T) {
	hash, err := Hash("s3cret")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret", hash)
	require.NoError(t, Compare(hash, "s3cret"))
	require.Error(t, Compare(hash, "other"))
}

func TestRandomHex(t *testing.T) {
	require.Len(t, RandomHex(16), 32)
	require.Equal(t, "", RandomHex(0))
	require.NotEqual(t, RandomHex(8), RandomHex(8))
}
