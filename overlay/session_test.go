package overlay

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type noopBanList struct{}

func (noopBanList) IsBanned([32]byte) bool { return false }

type noopPeerDirectory struct{}

func (noopPeerDirectory) Update(addr string, kind PeerKind)     {}
func (noopPeerDirectory) EnsureExists(addr string)               {}
func (noopPeerDirectory) GetPeersToSend(max int, exclude [32]byte) []PeerAddress {
	return nil
}

type noopLedger struct{}

func (noopLedger) IsSynced() bool                            { return true }
func (noopLedger) GetLastClosedLedgerHeader() LedgerHeader   { return LedgerHeader{LedgerSeq: 1} }

func newTestSession(t *testing.T, conn net.Conn, role Role, cfg Config) *PeerSession {
	t.Helper()
	id, err := GenerateIdentity()
	require.NoError(t, err)
	s, err := NewPeerSession(1, role, conn, cfg, SessionDeps{
		Identity:      id,
		BanList:       noopBanList{},
		PeerDirectory: noopPeerDirectory{},
		Consensus:     &fakeConsensus{},
		Ledger:        noopLedger{},
	})
	require.NoError(t, err)
	return s
}

func sharedTestConfig() Config {
	cfg := DefaultConfig()
	cfg.NetworkID = Hash{0xAB, 0xCD}
	cfg.TimerTickInterval = 50 * time.Millisecond
	cfg.HandshakeTimeout = time.Second
	cfg.PeerTimeout = time.Second
	return cfg
}

func TestHappyHandshakeReachesGotAuth(t *testing.T) {
	connA, connB := net.Pipe()
	cfg := sharedTestConfig()

	sessA := newTestSession(t, connA, RoleWeInitiated, cfg)
	sessB := newTestSession(t, connB, RoleTheyInitiated, cfg)

	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() { errA <- sessA.handshake() }()
	go func() { errB <- sessB.handshake() }()

	select {
	case err := <-errA:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sessA handshake timed out")
	}
	select {
	case err := <-errB:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sessB handshake timed out")
	}

	require.Equal(t, StateGotAuth, sessA.conn.State())
	require.Equal(t, StateGotAuth, sessB.conn.State())
	require.Equal(t, publicKeyBytes(sessB.identity), sessA.conn.RemoteIdentity)
}

func publicKeyBytes(id Identity) [32]byte {
	var b [32]byte
	copy(b[:], id.Public)
	return b
}

func TestSendLargeBlobEncodesOffSchedulerThread(t *testing.T) {
	connA, connB := net.Pipe()
	cfg := sharedTestConfig()
	sessA := newTestSession(t, connA, RoleWeInitiated, cfg)
	require.NoError(t, sessA.conn.transition(StateConnected))
	require.NoError(t, sessA.conn.transition(StateGotHello))
	require.NoError(t, sessA.conn.transition(StateGotAuth))

	blob := make([]byte, 4096)
	for i := range blob {
		blob[i] = byte(i)
	}

	framerB := NewFramer(connB)
	frameCh := make(chan *AuthenticatedMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		am, err := framerB.ReadFrame()
		if err != nil {
			errCh <- err
			return
		}
		frameCh <- am
	}()

	require.NoError(t, sessA.sendLargeBlob(NewTxSetMessage(TxSetMsg{Hash: Hash{9}, Blob: blob})))

	select {
	case am := <-frameCh:
		require.Equal(t, MsgTxSet, am.Message.Type)
		require.Equal(t, Hash{9}, am.Message.TxSet.Hash)
		require.Equal(t, blob, am.Message.TxSet.Blob)
	case err := <-errCh:
		t.Fatalf("read frame failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("offloaded send never reached the wire")
	}
}

func TestWrongNetworkHandshakeFails(t *testing.T) {
	connA, connB := net.Pipe()
	cfgA := sharedTestConfig()
	cfgB := sharedTestConfig()
	cfgB.NetworkID = Hash{0x01}

	sessA := newTestSession(t, connA, RoleWeInitiated, cfgA)
	sessB := newTestSession(t, connB, RoleTheyInitiated, cfgB)

	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() { errA <- sessA.handshake() }()
	go func() { errB <- sessB.handshake() }()

	gotErr := false
	for i := 0; i < 2; i++ {
		select {
		case err := <-errA:
			if err != nil {
				gotErr = true
			}
		case err := <-errB:
			if err != nil {
				gotErr = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("handshake did not resolve in time")
		}
	}
	require.True(t, gotErr, "a network-id mismatch must fail the handshake on at least one side")
}

func TestAdvertiseHashFlushesAtCeilingAndOnLedgerClosedPrunes(t *testing.T) {
	connA, connB := net.Pipe()
	cfg := sharedTestConfig()
	cfg.MaxAdvertSize = 1
	sessA := newTestSession(t, connA, RoleWeInitiated, cfg)
	require.NoError(t, sessA.conn.transition(StateConnected))
	require.NoError(t, sessA.conn.transition(StateGotHello))
	require.NoError(t, sessA.conn.transition(StateGotAuth))

	framerB := NewFramer(connB)
	frameCh := make(chan *AuthenticatedMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		am, err := framerB.ReadFrame()
		if err != nil {
			errCh <- err
			return
		}
		frameCh <- am
	}()

	// FLOOD_ADVERT is flood-class, so the peer must have granted credit first.
	require.NoError(t, sessA.flow.GrantOutbound(NewSendMoreMessage(SendMoreMsg{NumMessages: 1}), true, true, time.Now()))

	hash := Hash{7}
	require.NoError(t, sessA.AdvertiseHash(hash))

	select {
	case am := <-frameCh:
		require.Equal(t, MsgFloodAdvert, am.Message.Type)
		require.Equal(t, []Hash{hash}, am.Message.FloodAdvert.Hashes)
	case err := <-errCh:
		t.Fatalf("read frame failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("advertised hash never reached the wire")
	}

	require.True(t, sessA.advert.PeerKnows(hash))
	sessA.OnLedgerClosed(2)
	require.False(t, sessA.advert.PeerKnows(hash), "ledger close above the recorded sequence must prune the entry")
}
