package overlay

import (
	"math/rand"
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// AdvertHistory is the bounded, randomized-eviction map from transaction
// hash to the ledger sequence at which we last saw it advertised.
// Randomized eviction, rather than LRU, is intentional: it
// avoids a pathological eviction pattern under an adversarial access order
// that specifically targets whatever a recency-based policy keeps or drops
// (see DESIGN.md).
type AdvertHistory struct {
	mu        sync.Mutex
	seqByHash map[Hash]uint32
	hashes    []Hash
	posByHash map[Hash]int
	max       int
	rng       *rand.Rand
}

func NewAdvertHistory(max int) *AdvertHistory {
	return &AdvertHistory{
		seqByHash: make(map[Hash]uint32, max),
		posByHash: make(map[Hash]int, max),
		max:       max,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Record notes that hash H was seen (advertised by us or by the peer) at
// the given ledger sequence, evicting a uniformly random existing entry
// first if the map is already at capacity and H is new.
func (h *AdvertHistory) Record(hash Hash, ledgerSeq uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.seqByHash[hash]; exists {
		h.seqByHash[hash] = ledgerSeq
		return
	}
	if h.max > 0 && len(h.hashes) >= h.max {
		h.evictOneLocked()
	}
	h.seqByHash[hash] = ledgerSeq
	h.posByHash[hash] = len(h.hashes)
	h.hashes = append(h.hashes, hash)
}

func (h *AdvertHistory) evictOneLocked() {
	if len(h.hashes) == 0 {
		return
	}
	victimPos := h.rng.Intn(len(h.hashes))
	victim := h.hashes[victimPos]
	last := len(h.hashes) - 1
	h.hashes[victimPos] = h.hashes[last]
	h.posByHash[h.hashes[victimPos]] = victimPos
	h.hashes = h.hashes[:last]
	delete(h.posByHash, victim)
	delete(h.seqByHash, victim)
}

// Has reports whether hash is known, and at what ledger sequence, answering
// "does the peer know about H?"
func (h *AdvertHistory) Has(hash Hash) (uint32, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	seq, ok := h.seqByHash[hash]
	return seq, ok
}

// Len reports the current entry count; it never exceeds the configured
// bound.
func (h *AdvertHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hashes)
}

// ClearBelow prunes every entry whose recorded ledger sequence is < L, the
// "on each ledger close below sequence L" rule.
func (h *AdvertHistory) ClearBelow(l uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var kept []Hash
	for _, hash := range h.hashes {
		if h.seqByHash[hash] < l {
			delete(h.seqByHash, hash)
			delete(h.posByHash, hash)
			continue
		}
		kept = append(kept, hash)
	}
	h.hashes = kept
	for i, hash := range h.hashes {
		h.posByHash[hash] = i
	}
}

// demandOutcome is the per-hash result of servicing an incoming
// FLOOD_DEMAND, counted for metrics.
type demandOutcome int

const (
	demandFulfilled demandOutcome = iota
	demandUnfulfilledUnknown
	demandUnfulfilledBanned
)

// AdvertEngine implements the three sub-protocols of the pull-based flood
// protocol: outgoing advertisement, advert memory, and incoming/outgoing
// demand. It
// holds no socket reference; all sends go through sendAdvert/sendDemand/
// sendTx, injected by PeerSession so the engine stays testable in
// isolation.
type AdvertEngine struct {
	mu            sync.Mutex
	cfg           Config
	history       *AdvertHistory
	pending       []Hash
	timerRunning  bool

	consensus ConsensusEngine

	sendAdvert func(FloodAdvertMsg) error
	sendDemand func(FloodDemandMsg) error
	sendTx     func(TransactionMsg) error

	fulfilled         gometrics.Counter
	unfulfilledUnknown gometrics.Counter
	unfulfilledBanned  gometrics.Counter
}

func NewAdvertEngine(cfg Config, metrics *overlayMetrics, consensus ConsensusEngine) *AdvertEngine {
	return &AdvertEngine{
		cfg:                cfg,
		history:            NewAdvertHistory(cfg.AdvertHistorySize),
		consensus:          consensus,
		fulfilled:          metrics.FloodFulfilled,
		unfulfilledUnknown: metrics.FloodUnfulfilled,
		unfulfilledBanned:  metrics.FloodUnfulfilledBanned,
	}
}

// SetSenders wires the outbound paths. Called once, at session construction.
func (e *AdvertEngine) SetSenders(sendAdvert func(FloodAdvertMsg) error, sendDemand func(FloodDemandMsg) error, sendTx func(TransactionMsg) error) {
	e.mu.Lock()
	e.sendAdvert, e.sendDemand, e.sendTx = sendAdvert, sendDemand, sendTx
	e.mu.Unlock()
}

// NotifyNewHash is called when the local transaction pool tells this peer
// session about a new hash. It enqueues into the PendingAdvertBatch and
// reports whether the caller should flush immediately (batch at ceiling)
// and/or start the flush timer (this is the first pending hash).
func (e *AdvertEngine) NotifyNewHash(hash Hash) (flushNow, startTimer bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, known := e.history.Has(hash); known {
		return false, false
	}
	if len(e.pending) >= e.cfg.MaxAdvertBatchVectorSize {
		// Batch overflow: drop the overflow hash silently.
		return false, false
	}
	e.pending = append(e.pending, hash)
	if !e.timerRunning && len(e.pending) == 1 {
		e.timerRunning = true
		startTimer = true
	}
	flushNow = len(e.pending) >= e.cfg.MaxAdvertSize
	return flushNow, startTimer
}

// Flush assembles and sends a FLOOD_ADVERT for the pending batch, through
// the normal send path so flow-control credit applies, and records each
// hash into AdvertHistory at currentLedgerSeq.
func (e *AdvertEngine) Flush(currentLedgerSeq uint32) error {
	e.mu.Lock()
	hashes := e.pending
	e.pending = nil
	e.timerRunning = false
	send := e.sendAdvert
	e.mu.Unlock()

	if len(hashes) == 0 {
		return nil
	}
	for _, h := range hashes {
		e.history.Record(h, currentLedgerSeq)
	}
	if send == nil {
		return nil
	}
	return send(FloodAdvertMsg{Hashes: hashes})
}

// RecordReceivedAdvert notes hashes the peer just advertised to us, so we
// never re-advertise them back.
func (e *AdvertEngine) RecordReceivedAdvert(msg FloodAdvertMsg, currentLedgerSeq uint32) {
	for _, h := range msg.Hashes {
		e.history.Record(h, currentLedgerSeq)
	}
}

// HandleDemand services an incoming FLOOD_DEMAND: for each hash, ask the
// Consensus Engine for the transaction. Demands are never acknowledged
// negatively over the wire; only metrics observe the
// unfulfilled outcomes.
func (e *AdvertEngine) HandleDemand(msg FloodDemandMsg) error {
	for _, h := range msg.Hashes {
		envelope, ok := e.consensus.GetTx(h)
		if ok {
			e.fulfilled.Inc(1)
			e.mu.Lock()
			send := e.sendTx
			e.mu.Unlock()
			if send != nil {
				if err := send(TransactionMsg{Hash: h, Envelope: envelope}); err != nil {
					return err
				}
			}
			continue
		}
		if e.consensus.IsBannedTx(h) {
			e.unfulfilledBanned.Inc(1)
			continue
		}
		e.unfulfilledUnknown.Inc(1)
	}
	return nil
}

// SendTxDemand emits FLOOD_DEMAND through the normal authenticated path.
// The list of hashes to demand is produced by the transaction fetcher,
// external to this core.
func (e *AdvertEngine) SendTxDemand(hashes []Hash) error {
	e.mu.Lock()
	send := e.sendDemand
	e.mu.Unlock()
	if send == nil {
		return nil
	}
	return send(FloodDemandMsg{Hashes: hashes})
}

// PruneBelow forwards to AdvertHistory.ClearBelow, called on every ledger
// close.
func (e *AdvertEngine) PruneBelow(l uint32) {
	e.history.ClearBelow(l)
}

// PeerKnows reports whether we have a record of the peer having (or having
// been told about) hash, used to suppress redundant re-advertising.
func (e *AdvertEngine) PeerKnows(hash Hash) bool {
	_, ok := e.history.Has(hash)
	return ok
}
