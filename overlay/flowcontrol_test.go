package overlay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PeerFloodReadingCapacity = 2
	cfg.MaxFloodMessageCapacity = 2
	cfg.FlowControlSendMoreBatchSize = 2
	return cfg
}

func TestAccountInboundSuspendsReadsAtZeroCapacity(t *testing.T) {
	fc := NewFlowController(testConfig(), newMetrics())
	require.True(t, fc.CanRead())

	require.NoError(t, fc.AccountInbound(MsgTransaction, 10))
	require.True(t, fc.CanRead())

	require.NoError(t, fc.AccountInbound(MsgTransaction, 10))
	require.False(t, fc.CanRead())

	err := fc.AccountInbound(MsgTransaction, 10)
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, ErrFloodWithoutCredit, pe.Code)
}

func TestReadableChannelUnblocksOnCreditReturn(t *testing.T) {
	cfg := testConfig()
	cfg.FlowControlSendMoreBatchSize = 1
	fc := NewFlowController(cfg, newMetrics())
	var sent []Message
	fc.SetSendFrame(func(m Message) error {
		sent = append(sent, m)
		return nil
	})

	require.NoError(t, fc.AccountInbound(MsgTransaction, 5))
	require.NoError(t, fc.AccountInbound(MsgTransaction, 5))
	require.False(t, fc.CanRead())

	ch := fc.Readable()
	select {
	case <-ch:
		t.Fatal("readable channel should not be closed while throttled")
	default:
	}

	require.NoError(t, fc.ReturnInboundCredit(MsgTransaction, 5))
	require.NoError(t, fc.ReturnInboundCredit(MsgTransaction, 5))

	select {
	case <-ch:
	default:
		t.Fatal("readable channel should be closed once credit is returned past threshold")
	}
	require.True(t, fc.CanRead())
	require.Len(t, sent, 1)
}

func TestEnqueueOrSendQueuesAndDrainsInOrder(t *testing.T) {
	fc := NewFlowController(testConfig(), newMetrics())
	fc.outbound[axisMessages].capacity = 0

	var released []string
	fc.SetSendFrame(func(m Message) error {
		released = append(released, string(m.Transaction.Envelope))
		return nil
	})

	for _, tag := range []string{"a", "b", "c"} {
		msg := NewTransactionMessage(TransactionMsg{Envelope: []byte(tag)})
		body, err := EncodeBody(msg)
		require.NoError(t, err)
		release, err := fc.EnqueueOrSend(msg, body)
		require.NoError(t, err)
		require.False(t, release)
	}
	require.Equal(t, 3, fc.QueueDepth())

	require.NoError(t, fc.GrantOutbound(NewSendMoreMessage(SendMoreMsg{NumMessages: 2}), true, true, time.Now()))
	require.Equal(t, []string{"a", "b"}, released)
	require.Equal(t, 1, fc.QueueDepth())

	require.NoError(t, fc.GrantOutbound(NewSendMoreMessage(SendMoreMsg{NumMessages: 5}), true, true, time.Now()))
	require.Equal(t, []string{"a", "b", "c"}, released)
	require.Equal(t, 0, fc.QueueDepth())
}

func TestAccountInboundEnforcesTotalBudgetAcrossNonFloodTraffic(t *testing.T) {
	cfg := testConfig()
	cfg.PeerReadingCapacityTotal = 2
	fc := NewFlowController(cfg, newMetrics())

	// MsgGetPeers is control-class, not flood-class, but still consumes the
	// total inbound read budget.
	require.NoError(t, fc.AccountInbound(MsgGetPeers, 0))
	require.NoError(t, fc.AccountInbound(MsgGetPeers, 0))

	err := fc.AccountInbound(MsgGetPeers, 0)
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, ErrFloodWithoutCredit, pe.Code)

	// Returning credit restores headroom for the next non-flood message.
	require.NoError(t, fc.ReturnInboundCredit(MsgGetPeers, 0))
	require.NoError(t, fc.AccountInbound(MsgGetPeers, 0))
}

func TestAccountInboundTotalBudgetUntrackedWhenZero(t *testing.T) {
	cfg := testConfig()
	cfg.PeerReadingCapacityTotal = 0
	fc := NewFlowController(cfg, newMetrics())

	for i := 0; i < 10; i++ {
		require.NoError(t, fc.AccountInbound(MsgGetPeers, 0))
	}
}

func TestFlowIdleExceeded(t *testing.T) {
	fc := NewFlowController(testConfig(), newMetrics())
	require.False(t, fc.FlowIdleExceeded(time.Now(), time.Minute))

	fc.InitialGrant(time.Now().Add(-2 * time.Minute))
	require.True(t, fc.FlowIdleExceeded(time.Now(), time.Minute))
}
