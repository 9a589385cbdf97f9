package overlay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdvertHistoryBoundAndClearBelow(t *testing.T) {
	h := NewAdvertHistory(3)
	h.Record(Hash{1}, 10)
	h.Record(Hash{2}, 11)
	h.Record(Hash{3}, 12)
	require.Equal(t, 3, h.Len())

	h.Record(Hash{4}, 13)
	require.Equal(t, 3, h.Len(), "history must never exceed its configured bound")

	h.ClearBelow(12)
	require.LessOrEqual(t, h.Len(), 2)
	for _, hash := range h.hashes {
		seq, ok := h.Has(hash)
		require.True(t, ok)
		require.GreaterOrEqual(t, seq, uint32(12))
	}
}

type fakeConsensus struct {
	txs    map[Hash][]byte
	banned map[Hash]bool
}

func (f *fakeConsensus) RecvSCPEnvelope(e []byte) EnvelopeResult       { return EnvelopeProcessed }
func (f *fakeConsensus) RecvTxSet(hash Hash, frame []byte)             {}
func (f *fakeConsensus) RecvTransaction(e []byte) RecvResult           { return RecvPending }
func (f *fakeConsensus) GetTxSet(hash Hash) ([]byte, bool)             { return nil, false }
func (f *fakeConsensus) GetQSet(hash Hash) ([]byte, bool)              { return nil, false }
func (f *fakeConsensus) GetTx(hash Hash) ([]byte, bool) {
	b, ok := f.txs[hash]
	return b, ok
}
func (f *fakeConsensus) IsBannedTx(hash Hash) bool { return f.banned[hash] }
func (f *fakeConsensus) SendSCPStateToPeer(seq uint32, peer *PeerSession) {}
func (f *fakeConsensus) TrackingConsensusLedgerIndex() uint32            { return 1 }
func (f *fakeConsensus) PeerDoesntHave(reqType DontHaveType, hash Hash, peer *PeerSession) {}

func TestHandleDemandFulfilledUnknownBanned(t *testing.T) {
	fc := &fakeConsensus{
		txs:    map[Hash][]byte{{2}: []byte("tx-2-envelope")},
		banned: map[Hash]bool{{3}: true},
	}
	engine := NewAdvertEngine(testConfig(), newMetrics(), fc)
	var sentTx []TransactionMsg
	engine.SetSenders(
		func(FloodAdvertMsg) error { return nil },
		func(FloodDemandMsg) error { return nil },
		func(m TransactionMsg) error { sentTx = append(sentTx, m); return nil },
	)

	require.NoError(t, engine.HandleDemand(FloodDemandMsg{Hashes: []Hash{{1}, {2}, {3}}}))

	require.Len(t, sentTx, 1)
	require.Equal(t, Hash{2}, sentTx[0].Hash)
	require.Equal(t, int64(1), engine.fulfilled.Count())
	require.Equal(t, int64(1), engine.unfulfilledUnknown.Count())
	require.Equal(t, int64(1), engine.unfulfilledBanned.Count())
}

func TestNotifyNewHashBatchingAndFlush(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAdvertSize = 2
	engine := NewAdvertEngine(cfg, newMetrics(), &fakeConsensus{})
	var advertised []FloodAdvertMsg
	engine.SetSenders(
		func(m FloodAdvertMsg) error { advertised = append(advertised, m); return nil },
		func(FloodDemandMsg) error { return nil },
		func(TransactionMsg) error { return nil },
	)

	flush, start := engine.NotifyNewHash(Hash{1})
	require.False(t, flush)
	require.True(t, start)

	flush, start = engine.NotifyNewHash(Hash{2})
	require.True(t, flush, "batch at MaxAdvertSize must flush immediately")
	require.False(t, start)

	require.NoError(t, engine.Flush(5))
	require.Len(t, advertised, 1)
	require.ElementsMatch(t, []Hash{{1}, {2}}, advertised[0].Hashes)

	// Having already recorded these hashes, re-notifying must be a no-op.
	flush, start = engine.NotifyNewHash(Hash{1})
	require.False(t, flush)
	require.False(t, start)
}
