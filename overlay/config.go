package overlay

import "time"

// Config collects the overlay core's own tunables. It is a plain struct
// populated by the caller, not a file format: parsing configuration files,
// flags, or environment variables is explicitly a collaborator concern
// outside this core.
type Config struct {
	// NetworkID identifies the network this node participates in; HELLO
	// messages from a different network are rejected.
	NetworkID Hash

	// VersionStr is the free-form version string advertised in HELLO.
	VersionStr string

	// LedgerVersion is the local ledger protocol version advertised in HELLO.
	LedgerVersion uint32
	// OverlayMinVersion/OverlayVersion is the [min, current] overlay
	// protocol range this node supports.
	OverlayMinVersion uint32
	OverlayVersion    uint32
	// FlowControlBytesExtMinOverlayVersion gates the byte-flow-control axis:
	// both peers' OverlayVersion must be at least this for it to activate,
	// in addition to both sides setting AuthFlagFlowControlBytesExt.
	FlowControlBytesExtMinOverlayVersion uint32

	ListeningPort int32

	// CertExpiration is how long an authentication certificate we mint
	// remains valid for.
	CertExpiration time.Duration

	// PeerFloodReadingCapacity is the initial inbound message-axis flood
	// credit grant.
	PeerFloodReadingCapacity uint32
	// MaxFloodMessageCapacity is the ceiling the flood message axis may
	// never exceed.
	MaxFloodMessageCapacity uint32
	// PeerReadingCapacityTotal bounds total in-flight messages (flood and
	// non-flood) on the inbound message axis. Zero means untracked.
	PeerReadingCapacityTotal uint32

	// FlowControlByteCapacity is the initial inbound byte-axis flood credit
	// grant, and also its ceiling.
	FlowControlByteCapacity uint32

	// FlowControlSendMoreBatchSize controls SEND_MORE coalescing: credit is
	// granted back to the peer once outstanding returned capacity reaches
	// floor(capacity/FlowControlSendMoreBatchSize), or on every processed
	// message if that floor is zero.
	FlowControlSendMoreBatchSize uint32

	// MaxAdvertSize is the advert batch ceiling that triggers an immediate
	// flush.
	MaxAdvertSize int
	// AdvertFlushInterval is the flush timer period for a non-empty,
	// below-ceiling PendingAdvertBatch.
	AdvertFlushInterval time.Duration
	// MaxAdvertBatchVectorSize bounds the pending advert batch, and so a
	// single outgoing FLOOD_ADVERT; hashes beyond it are dropped silently.
	// Outgoing FLOOD_DEMAND hash lists are not bounded by it.
	MaxAdvertBatchVectorSize int
	// AdvertHistorySize bounds the AdvertHistory map.
	AdvertHistorySize int

	// HandshakeTimeout bounds the pre-GOT_AUTH idle window.
	HandshakeTimeout time.Duration
	// PeerTimeout bounds the post-GOT_AUTH idle window.
	PeerTimeout time.Duration
	// FlowIdleTimeout is the maximum time without a fresh outbound credit
	// grant from the peer before dropping as flow-idle.
	FlowIdleTimeout time.Duration
	// StragglerTimeout bounds the time our outbound queue may go without
	// draining before we consider the peer a straggler.
	StragglerTimeout time.Duration
	// TimerTickInterval is the recurring liveness-check period.
	TimerTickInterval time.Duration

	// MaxOutboundQueueMessages and MaxOutboundQueueBytes bound the
	// load-shedding check for droppable-class outbound sends.
	MaxOutboundQueueMessages int
	MaxOutboundQueueBytes    int

	// MaxSendMoreIncrement bounds a single SEND_MORE/SEND_MORE_EXTENDED
	// grant; larger values are rejected as malformed.
	MaxSendMoreIncrement uint32
}

// DefaultConfig returns the tunables used in the absence of caller
// overrides.
func DefaultConfig() Config {
	return Config{
		VersionStr:                           "overlay-core/1.0",
		LedgerVersion:                        1,
		OverlayMinVersion:                    1,
		OverlayVersion:                       1,
		FlowControlBytesExtMinOverlayVersion: 1,
		CertExpiration:                       time.Hour,

		PeerFloodReadingCapacity: 200,
		MaxFloodMessageCapacity:  200,
		PeerReadingCapacityTotal: 1000,
		FlowControlByteCapacity:  300 * 1024,

		FlowControlSendMoreBatchSize: 4,

		MaxAdvertSize:            1000,
		AdvertFlushInterval:      250 * time.Millisecond,
		MaxAdvertBatchVectorSize: 4000,
		AdvertHistorySize:        50000,

		HandshakeTimeout:  10 * time.Second,
		PeerTimeout:       120 * time.Second,
		FlowIdleTimeout:   60 * time.Second,
		StragglerTimeout:  20 * time.Second,
		TimerTickInterval: 5 * time.Second,

		MaxOutboundQueueMessages: 2000,
		MaxOutboundQueueBytes:    64 * 1024 * 1024,

		MaxSendMoreIncrement: 1 << 20,
	}
}

// sendMoreBatchThreshold implements the floor(capacity/N) coalescing rule,
// falling back to "return on every message" when the floor is zero.
func sendMoreBatchThreshold(capacity, n uint32) uint32 {
	if n == 0 {
		return 1
	}
	th := capacity / n
	if th == 0 {
		return 1
	}
	return th
}
