package overlay

import "time"

// The types in this file are the minimum surface the overlay core requires
// from collaborators that live outside it: peer discovery, ledger state,
// transaction validation, database persistence, and the consensus protocol
// proper. The core only ever calls these interfaces;
// it never reaches into their implementations.

// PeerKind distinguishes why a peer directory entry is being touched.
type PeerKind int

const (
	PeerKindInbound PeerKind = iota
	PeerKindOutbound
	PeerKindFailed
)

// BanList answers whether a node identity is banned. Implemented outside
// this core; the overlay only ever asks.
type BanList interface {
	IsBanned(identity [32]byte) bool
}

// PeerDirectory records observed peer addresses and serves PEERS replies.
// Discovering new peers, reputation scoring, and persistence are explicitly
// non-goals of this core; these three methods are the
// entire surface it needs.
type PeerDirectory interface {
	Update(addr string, kind PeerKind)
	EnsureExists(addr string)
	GetPeersToSend(max int, exclude [32]byte) []PeerAddress
}

// RecvResult classifies the outcome of handing a transaction to the
// Consensus Engine.
type RecvResult int

const (
	RecvPending RecvResult = iota
	RecvDuplicate
	RecvRejected
)

// EnvelopeResult classifies the outcome of handing an SCP envelope to the
// Consensus Engine.
type EnvelopeResult int

const (
	EnvelopeProcessed EnvelopeResult = iota
	EnvelopeDiscarded
)

// ConsensusEngine is the collaborator that owns the consensus protocol
// proper, transaction validation, and the transaction pool. The overlay
// core never inspects a transaction or SCP message; it only moves bytes to
// and from this interface.
type ConsensusEngine interface {
	RecvSCPEnvelope(envelope []byte) EnvelopeResult
	RecvTxSet(hash Hash, frame []byte)
	RecvTransaction(envelope []byte) RecvResult
	GetTxSet(hash Hash) ([]byte, bool)
	GetQSet(hash Hash) ([]byte, bool)
	GetTx(hash Hash) ([]byte, bool)
	IsBannedTx(hash Hash) bool
	SendSCPStateToPeer(ledgerSeq uint32, peer *PeerSession)
	TrackingConsensusLedgerIndex() uint32
	PeerDoesntHave(reqType DontHaveType, hash Hash, peer *PeerSession)
}

// LedgerHeader is the minimal ledger-close information the overlay core
// consumes; only LedgerSeq is read, to stamp AdvertHistory entries.
type LedgerHeader struct {
	LedgerSeq uint32
	CloseTime time.Time
}

// Ledger is the collaborator that owns ledger storage and historical
// archival — both explicitly out of scope for this core.
type Ledger interface {
	IsSynced() bool
	GetLastClosedLedgerHeader() LedgerHeader
}

// SurveyManager relays or locally processes survey protocol messages. The
// overlay core forwards SURVEY_REQUEST/SURVEY_RESPONSE to it unconditionally
// and does not interpret their payload.
type SurveyManager interface {
	RelayOrProcessRequest(msg SurveyRequestMsg, peer *PeerSession)
	RelayOrProcessResponse(msg SurveyResponseMsg, peer *PeerSession)
}
