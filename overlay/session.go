package overlay

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inconshreveable/log15"
)

// DropDirection records which side initiated a disconnect.
type DropDirection int

const (
	DropWeDropped DropDirection = iota
	DropTheyDropped
)

// DropMode controls how the outbound queue is treated when dropping.
type DropMode int

const (
	// DropFlushWriteQueue drains the outgoing queue first, so the peer has
	// a chance to receive a preceding ERROR_MSG.
	DropFlushWriteQueue DropMode = iota
	// DropIgnoreWriteQueue closes immediately, discarding anything queued.
	DropIgnoreWriteQueue
)

// DuplicateChecker decides whether another live session already represents
// the same remote identity. Implementations must compare by session handle
// identity rather than by the claimed public key value, which is why this
// takes the candidate session, not just the key.
type DuplicateChecker func(remoteIdentity [32]byte, candidate *PeerSession) bool

// pingState tracks one outstanding liveness probe.
type pingState struct {
	hash Hash
	sent time.Time
}

// cancellableTimer wraps a *time.Timer scheduled by afterFunc, whose
// callback captured the generation it was scheduled under, so it can detect
// a session that has since been dropped: Drop bumps the generation and stops
// every tracked timer.
type cancellableTimer struct {
	timer *time.Timer
	stop  func()
}

// PeerSession composes the Framer, Authenticator, FlowController,
// MessageRouter, and AdvertEngine into one connection's lifecycle. It owns
// every timer, metric, and drop decision for the connection.
type PeerSession struct {
	cfg Config

	conn   *Connection
	framer *Framer
	auth   *Authenticator
	flow   *FlowController
	advert *AdvertEngine
	sched  *Scheduler
	router Router

	identity Identity
	rawConn  io.ReadWriteCloser

	banList   BanList
	peerDir   PeerDirectory
	consensus ConsensusEngine
	ledger    Ledger
	survey    SurveyManager
	isDup     DuplicateChecker

	metrics *overlayMetrics
	log     log15.Logger

	mu              sync.Mutex
	dropOnce        sync.Once
	shuttingDown    atomic.Bool
	generation      uint64
	timers          []*cancellableTimer
	outstandingPing *pingState

	certExpiresAt time.Time

	onDropped func(reason *ProtocolError, direction DropDirection)
}

// SessionDeps bundles every collaborator PeerSession needs, so
// construction reads as one call instead of a long positional argument
// list.
type SessionDeps struct {
	Identity      Identity
	BanList       BanList
	PeerDirectory PeerDirectory
	Consensus     ConsensusEngine
	Ledger        Ledger
	Survey        SurveyManager
	IsDuplicate   DuplicateChecker
	OnDropped     func(reason *ProtocolError, direction DropDirection)
}

// NewPeerSession creates a session for one freshly accepted or dialed
// connection. rawConn is the duplex byte stream; role says which side
// initiated the TCP connection.
func NewPeerSession(id uint64, role Role, rawConn io.ReadWriteCloser, cfg Config, deps SessionDeps) (*PeerSession, error) {
	authr, err := NewAuthenticator(deps.Identity)
	if err != nil {
		return nil, err
	}
	metrics := newMetrics()
	s := &PeerSession{
		cfg:       cfg,
		conn:      NewConnection(id, role, time.Now()),
		framer:    NewFramer(rawConn),
		auth:      authr,
		flow:      NewFlowController(cfg, metrics),
		router:    Router{},
		identity:  deps.Identity,
		rawConn:   rawConn,
		banList:   deps.BanList,
		peerDir:   deps.PeerDirectory,
		consensus: deps.Consensus,
		ledger:    deps.Ledger,
		survey:    deps.Survey,
		isDup:     deps.IsDuplicate,
		metrics:   metrics,
		log:       rootLogger.New("conn", id),
		onDropped: deps.OnDropped,
	}
	s.advert = NewAdvertEngine(cfg, metrics, deps.Consensus)
	s.advert.SetSenders(
		func(m FloodAdvertMsg) error { return s.sendMessage(NewFloodAdvertMessage(m)) },
		func(m FloodDemandMsg) error { return s.sendMessage(NewFloodDemandMessage(m)) },
		func(m TransactionMsg) error { return s.sendMessage(NewTransactionMessage(m)) },
	)
	s.flow.SetSendFrame(func(m Message) error { return s.sendAuthenticated(m) })
	s.sched = NewScheduler(4, cfg.MaxOutboundQueueMessages, metrics.LoadShed)
	go s.sched.Run()
	return s, nil
}

// currentGeneration/bumpGeneration implement an epoch guard in place of a
// weak pointer: a deferred task captures the generation at schedule time
// and checks it still matches before acting.
func (s *PeerSession) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *PeerSession) bumpGeneration() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

// afterFunc schedules fn to run after d, guarded by the epoch token: if the
// session has been dropped (generation changed) or is shutting down by the
// time the timer fires, fn is skipped. The timer is tracked for bulk
// cancellation by Drop.
func (s *PeerSession) afterFunc(d time.Duration, fn func()) *cancellableTimer {
	gen := s.currentGeneration()
	ct := &cancellableTimer{}
	ct.timer = time.AfterFunc(d, func() {
		if s.shuttingDown.Load() || s.currentGeneration() != gen {
			return
		}
		fn()
	})
	ct.stop = func() { ct.timer.Stop() }
	s.mu.Lock()
	s.timers = append(s.timers, ct)
	s.mu.Unlock()
	return ct
}

// StartLivenessTimer begins the recurring liveness check. Call once the
// session is constructed; it reschedules itself until Drop.
func (s *PeerSession) StartLivenessTimer() {
	var tick func()
	tick = func() {
		s.checkLiveness(time.Now())
		if !s.shuttingDown.Load() {
			s.afterFunc(s.cfg.TimerTickInterval, tick)
		}
	}
	s.afterFunc(s.cfg.TimerTickInterval, tick)
}

func (s *PeerSession) checkLiveness(now time.Time) {
	ioTimeout := s.cfg.PeerTimeout
	if s.conn.State() != StateGotAuth {
		ioTimeout = s.cfg.HandshakeTimeout
	}
	if now.Sub(s.conn.LastRead) >= ioTimeout && now.Sub(s.conn.LastWrite) >= ioTimeout {
		s.Drop(Errorf(ErrIdleTimeout, "no read or write for %s", ioTimeout), DropWeDropped, DropIgnoreWriteQueue)
		return
	}
	if s.conn.State() == StateGotAuth && s.flow.FlowIdleExceeded(now, s.cfg.FlowIdleTimeout) {
		s.Drop(Errorf(ErrFlowIdleTimeout, "no SEND_MORE for %s", s.cfg.FlowIdleTimeout), DropWeDropped, DropIgnoreWriteQueue)
		return
	}
	if s.flow.QueueDepth() > 0 && now.Sub(s.conn.LastEnqueue) >= s.cfg.StragglerTimeout {
		s.Drop(Errorf(ErrStraggler, "no drain for %s", s.cfg.StragglerTimeout), DropWeDropped, DropIgnoreWriteQueue)
		return
	}
	s.maybePing(now)
}

// maybePing sends a GET_SCP_QUORUMSET for a synthetic hash derived from the
// current timestamp when authenticated and no ping is outstanding.
func (s *PeerSession) maybePing(now time.Time) {
	if s.conn.State() != StateGotAuth {
		return
	}
	s.mu.Lock()
	if s.outstandingPing != nil {
		s.mu.Unlock()
		return
	}
	var h Hash
	putUint64(h[:8], uint64(now.UnixNano()))
	s.outstandingPing = &pingState{hash: h, sent: now}
	s.mu.Unlock()

	_ = s.sendMessage(NewGetSCPQuorumSetMessage(GetSCPQuorumSetMsg{Hash: h}))
}

// AdvertiseHash is the local transaction pool's entry point for telling this
// peer session about a new hash: enqueue into the pending advertisement
// batch, flushing immediately if that reached the configured ceiling and
// starting the flush timer if it was the first pending hash.
func (s *PeerSession) AdvertiseHash(hash Hash) error {
	flushNow, startTimer := s.advert.NotifyNewHash(hash)
	if startTimer {
		s.afterFunc(s.cfg.AdvertFlushInterval, func() {
			if err := s.flushAdverts(); err != nil {
				s.reportDispatchErr(err)
			}
		})
	}
	if flushNow {
		return s.flushAdverts()
	}
	return nil
}

func (s *PeerSession) flushAdverts() error {
	var seq uint32
	if s.ledger != nil {
		seq = s.ledger.GetLastClosedLedgerHeader().LedgerSeq
	}
	return s.advert.Flush(seq)
}

// OnLedgerClosed prunes this peer's advert history below closedSeq. Call it
// once per ledger close, from the same collaborator that drives the
// session's Ledger dependency.
func (s *PeerSession) OnLedgerClosed(closedSeq uint32) {
	s.advert.PruneBelow(closedSeq)
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// observePingReply clears the outstanding marker and records RTT if hash
// matches the outstanding ping (DONT_HAVE or a matching SCP_QUORUMSET
// reply).
func (s *PeerSession) observePingReply(hash Hash, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstandingPing == nil || s.outstandingPing.hash != hash {
		return
	}
	s.conn.LastRTT = now.Sub(s.outstandingPing.sent)
	s.metrics.ConnectionLatency.Update(s.conn.LastRTT)
	s.outstandingPing = nil
}

// Drop is idempotent: moves the connection to CLOSING, cancels every timer,
// notifies the peer directory, and closes the transport. mode controls
// whether the outbound queue is flushed first.
func (s *PeerSession) Drop(reason *ProtocolError, direction DropDirection, mode DropMode) {
	s.dropOnce.Do(func() {
		s.shuttingDown.Store(true)
		_ = s.conn.transition(StateClosing)
		s.bumpGeneration()

		s.mu.Lock()
		timers := s.timers
		s.timers = nil
		s.mu.Unlock()
		for _, t := range timers {
			t.stop()
		}

		if reason != nil {
			s.metrics.markDrop(reason.Code)
			if wireCode, ok := reason.Code.WireCode(); ok && direction == DropWeDropped {
				_ = s.sendRaw(NewErrorMessage(ErrorMsg{Code: wireCode, Msg: sanitize(reason.Detail)}))
			}
			s.log.Info("dropping connection", "reason", reason.Error(), "direction", direction)
		}

		if mode == DropIgnoreWriteQueue {
			_ = s.rawConn.Close()
		} else {
			go func() {
				time.Sleep(2 * time.Second)
				_ = s.rawConn.Close()
			}()
		}

		if s.peerDir != nil && s.conn.RemoteListeningAddr != "" {
			s.peerDir.Update(s.conn.RemoteListeningAddr, PeerKindFailed)
		}
		s.sched.Shutdown()

		if s.onDropped != nil {
			s.onDropped(reason, direction)
		}
	})
}

// sendRaw writes a message bypassing flow control — used only for the
// unauthenticated ERROR_MSG a drop may emit.
func (s *PeerSession) sendRaw(msg Message) error {
	am := &AuthenticatedMessage{Message: msg}
	return s.framer.WriteFrame(am)
}

// sendAuthenticated computes the MAC, advances the send sequence, frames,
// and writes an already-credit-cleared message. It is the only path that
// touches the wire for authenticated traffic.
func (s *PeerSession) sendAuthenticated(msg Message) error {
	body, err := EncodeBody(msg)
	if err != nil {
		return err
	}
	return s.sendAuthenticatedBody(msg, body)
}

// sendAuthenticatedBody is sendAuthenticated for a caller that already holds
// the encoded body, so a large blob's XDR encoding can be done off the
// scheduler's single dispatch goroutine (via Scheduler.OffloadCPU) and only
// the MAC/frame/write step runs back on it.
func (s *PeerSession) sendAuthenticatedBody(msg Message, body []byte) error {
	am := &AuthenticatedMessage{Message: msg}
	if !msg.Type.isUnauthenticated() {
		seq := s.conn.nextSendSeq()
		am.Sequence = seq
		am.Mac = s.auth.ComputeMAC(seq, body)
	}
	if err := s.framer.WriteFrame(am); err != nil {
		return err
	}
	now := time.Now()
	s.conn.touchWrite(now)
	s.metrics.markWritten(msg.Type, len(body))
	return nil
}

// sendLargeBlob sends a non-flood message whose body may be large (a
// TX_SET or SCP_QUORUMSET reply, for instance) by encoding it on the
// scheduler's shared CPU pool and posting the MAC/frame/write step back to
// the scheduler's single dispatch goroutine, so one multi-megabyte encode
// never blocks every other queued message on this connection. Encode or
// write failures are logged rather than returned, since the call has
// already returned to the caller by the time they would occur.
func (s *PeerSession) sendLargeBlob(msg Message) error {
	if err := s.conn.requireAuthenticated(); err != nil {
		return err
	}
	s.conn.touchEnqueue(time.Now())
	s.sched.OffloadCPU(func() {
		body, err := EncodeBody(msg)
		if err != nil {
			s.log.Warn("failed to encode outbound message", "type", msg.Type, "err", err)
			return
		}
		s.sched.Post(ClassNormal, func() {
			if err := s.sendAuthenticatedBody(msg, body); err != nil {
				s.log.Warn("failed to send outbound message", "type", msg.Type, "err", err)
			}
		})
	})
	return nil
}

// sendMessage is the single public entry point for sending anything:
// non-flood messages bypass credit; flood-class messages are gated by
// FlowController and may be queued. Load-shedding applies here: a
// droppable-class flood message is silently dropped, not queued without
// bound, once the outbound queue is already overloaded.
func (s *PeerSession) sendMessage(msg Message) error {
	if err := s.conn.requireAuthenticated(); err != nil && !msg.Type.isUnauthenticated() && msg.Type != MsgAuth {
		return err
	}
	s.conn.touchEnqueue(time.Now())

	if !msg.Type.isFloodClass() {
		return s.sendAuthenticated(msg)
	}

	if msg.Type.category() == categoryFloodTx &&
		(s.flow.QueueDepth() >= s.cfg.MaxOutboundQueueMessages || s.flow.QueuedBytes() >= s.cfg.MaxOutboundQueueBytes) {
		s.metrics.LoadShed.Inc(1)
		return nil
	}

	body, err := EncodeBody(msg)
	if err != nil {
		return err
	}
	release, err := s.flow.EnqueueOrSend(msg, body)
	if err != nil {
		return err
	}
	if release {
		return s.sendAuthenticated(msg)
	}
	return nil
}
