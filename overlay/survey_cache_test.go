package overlay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSurveyVerificationCacheRemembersFirstResult(t *testing.T) {
	c, err := NewSurveyVerificationCache(2)
	require.NoError(t, err)

	nonce := Hash{1}
	require.True(t, c.CheckAndRemember(nonce, true))

	// A later caller's verification outcome is ignored once remembered.
	require.True(t, c.CheckAndRemember(nonce, false))
}

func TestSurveyVerificationCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewSurveyVerificationCache(1)
	require.NoError(t, err)

	require.True(t, c.CheckAndRemember(Hash{1}, true))
	require.False(t, c.CheckAndRemember(Hash{2}, false))

	// Hash{1} was evicted when Hash{2} was added to a cache of size 1, so
	// its verification outcome is recomputed from the fresh call below.
	require.False(t, c.CheckAndRemember(Hash{1}, false))
}
