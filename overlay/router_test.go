package overlay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingHandlers struct {
	mu    sync.Mutex
	calls []MsgType
}

func (h *recordingHandlers) record(t MsgType) {
	h.mu.Lock()
	h.calls = append(h.calls, t)
	h.mu.Unlock()
}
func (h *recordingHandlers) HandleControl(msg Message) error        { h.record(msg.Type); return nil }
func (h *recordingHandlers) HandleFloodTx(msg Message) error        { h.record(msg.Type); return nil }
func (h *recordingHandlers) HandleConsensusFetch(msg Message) error { h.record(msg.Type); return nil }
func (h *recordingHandlers) HandleConsensus(msg Message) error      { h.record(msg.Type); return nil }
func (h *recordingHandlers) HandleSurvey(msg Message) error         { h.record(msg.Type); return nil }

func drainScheduler(t *testing.T, sched *Scheduler) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		sched.Run()
		close(done)
	}()
	sched.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not drain in time")
	}
}

func TestRouterDropsDroppableFloodWhenUnsynced(t *testing.T) {
	fc := NewFlowController(testConfig(), newMetrics())
	sched := NewScheduler(1, 10, nil)
	h := &recordingHandlers{}

	var router Router
	router.Dispatch(NewTransactionMessage(TransactionMsg{Hash: Hash{1}}), 10, false, fc, sched, h, nil)
	router.Dispatch(NewGetPeersMessage(), 0, false, fc, sched, h, nil)

	drainScheduler(t, sched)

	require.NotContains(t, h.calls, MsgTransaction, "droppable flood traffic must be discarded while unsynced")
	require.Contains(t, h.calls, MsgGetPeers, "control traffic is never gated by sync state")
}

func TestRouterReleasesCreditEvenWhenDiscarded(t *testing.T) {
	fc := NewFlowController(testConfig(), newMetrics())
	require.NoError(t, fc.AccountInbound(MsgTransaction, 10))
	require.Equal(t, uint32(1), fc.inbound[axisMessages].capacity)

	sched := NewScheduler(1, 10, nil)
	h := &recordingHandlers{}

	var router Router
	router.Dispatch(NewTransactionMessage(TransactionMsg{Hash: Hash{1}}), 10, false, fc, sched, h, nil)
	drainScheduler(t, sched)

	require.NotContains(t, h.calls, MsgTransaction, "message was discarded as droppable-while-unsynced")
	require.Equal(t, uint32(2), fc.inbound[axisMessages].capacity, "credit must be returned even though the message itself was discarded")
}

func TestSchedulerLoadShedsDroppableOverCeiling(t *testing.T) {
	sched := NewScheduler(1, 1, nil)
	accepted1 := sched.Post(ClassDroppable, func() {})
	require.True(t, accepted1)

	accepted2 := sched.Post(ClassDroppable, func() {})
	require.False(t, accepted2, "a second droppable task must be refused once the ceiling is hit")

	sched.Shutdown()
}
