package overlay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnStateForwardOnlyExceptClosing(t *testing.T) {
	c := NewConnection(1, RoleWeInitiated, time.Now())
	require.Equal(t, StateConnecting, c.State())

	require.NoError(t, c.transition(StateConnected))
	require.NoError(t, c.transition(StateGotHello))
	require.NoError(t, c.transition(StateGotAuth))

	require.Error(t, c.transition(StateConnected), "backward transition must fail")
	require.Error(t, c.transition(StateGotAuth), "repeated transition must fail")

	require.NoError(t, c.transition(StateClosing))
	require.Equal(t, StateClosing, c.State())
	require.Error(t, c.transition(StateConnected), "CLOSING is terminal")
}

func TestRequireAuthenticatedGatesNonHandshakeSend(t *testing.T) {
	c := NewConnection(1, RoleWeInitiated, time.Now())
	require.Error(t, c.requireAuthenticated())

	require.NoError(t, c.transition(StateConnected))
	require.NoError(t, c.transition(StateGotHello))
	require.NoError(t, c.transition(StateGotAuth))
	require.NoError(t, c.requireAuthenticated())
}

func TestCheckRecvSeqIncrementsEvenOnMismatch(t *testing.T) {
	c := NewConnection(1, RoleWeInitiated, time.Now())
	require.NoError(t, c.checkRecvSeq(0))
	require.NoError(t, c.checkRecvSeq(1))

	err := c.checkRecvSeq(1) // replay of a stale sequence
	require.Error(t, err)
	require.Equal(t, uint64(3), c.recvSeq, "counter must still advance past a rejected sequence")
}
