package overlay

import (
	"fmt"
	"sync"
	"time"
)

// Role records which side initiated the TCP connection.
type Role int

const (
	RoleWeInitiated Role = iota
	RoleTheyInitiated
)

// ConnState is the connection state machine. Modeled as a distinct type
// rather than a bare int; every transition goes through advance, which
// rejects a backward or repeated move at run time.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateGotHello
	StateGotAuth
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateGotHello:
		return "GOT_HELLO"
	case StateGotAuth:
		return "GOT_AUTH"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// order of StateConnecting < StateConnected < StateGotHello < StateGotAuth
// for the forward-only transition rule; StateClosing is reachable from any
// of them and is terminal.
var stateOrder = map[ConnState]int{
	StateConnecting: 0,
	StateConnected:  1,
	StateGotHello:   2,
	StateGotAuth:    3,
	StateClosing:    4,
}

// advance returns the next state, or an error if the transition would move
// state backwards (other than into CLOSING, which is always reachable).
func (s ConnState) advance(next ConnState) (ConnState, error) {
	if next == StateClosing {
		return StateClosing, nil
	}
	if s == StateClosing {
		return s, fmt.Errorf("overlay: connection is CLOSING, no further transitions")
	}
	if stateOrder[next] <= stateOrder[s] {
		return s, fmt.Errorf("overlay: illegal transition %s -> %s", s, next)
	}
	return next, nil
}

// macKeys holds the per-direction MAC keys derived at handshake completion.
type macKeys struct {
	send []byte
	recv []byte
}

// Connection is the data model of one duplex session.
//
// All fields below state and the MAC sequence counters are mutated only by
// the session's owning goroutine; concurrent accessors go through
// PeerSession's exported methods, not this struct directly.
type Connection struct {
	mu sync.Mutex

	ID   uint64
	Role Role

	state ConnState

	LocalNonce  [32]byte
	RemoteNonce [32]byte

	macKeys macKeys

	sendSeq uint64
	recvSeq uint64

	RemoteIdentity          [32]byte
	RemoteOverlayMinVersion uint32
	RemoteOverlayVersion    uint32
	RemoteLedgerVersion     uint32
	RemoteListeningAddr     string
	RemoteAuthFlags         uint32

	Created     time.Time
	LastRead    time.Time
	LastWrite   time.Time
	LastEnqueue time.Time

	LastRTT time.Duration
}

// NewConnection creates a Connection in CONNECTING, matching the lifecycle
// rule that a Connection exists from the moment a connect completes or an
// incoming socket is accepted.
func NewConnection(id uint64, role Role, now time.Time) *Connection {
	return &Connection{
		ID:      id,
		Role:    role,
		state:   StateConnecting,
		Created: now,
	}
}

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition advances the state machine, returning an error for any
// backward or repeated move other than into CLOSING (invariant (a)).
func (c *Connection) transition(next ConnState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, err := c.state.advance(next)
	if err != nil {
		return err
	}
	c.state = ns
	return nil
}

// requireAuthenticated enforces invariant (b): a non-handshake message may
// only be sent in GOT_AUTH.
func (c *Connection) requireAuthenticated() error {
	if c.State() != StateGotAuth {
		return Errorf(ErrMessageBeforeHandshake, "connection is %s, not GOT_AUTH", c.State())
	}
	return nil
}

// nextSendSeq returns the sequence number for the next authenticated
// message and advances the counter (invariant (c): sequences are
// contiguous from 0).
func (c *Connection) nextSendSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.sendSeq
	c.sendSeq++
	return seq
}

// checkRecvSeq verifies that seq is exactly the expected next value and, if
// so, advances the counter. A mismatch is fatal and the counter still
// advances: recv_counter is incremented even when verification of the
// message that carried it fails, since a replay of the same bad sequence
// must not appear to succeed on retry.
func (c *Connection) checkRecvSeq(seq uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	expected := c.recvSeq
	c.recvSeq++
	if seq != expected {
		return Errorf(ErrOutOfOrderMessage, "expected sequence %d, got %d", expected, seq)
	}
	return nil
}

func (c *Connection) touchRead(now time.Time) {
	c.mu.Lock()
	c.LastRead = now
	c.mu.Unlock()
}

func (c *Connection) touchWrite(now time.Time) {
	c.mu.Lock()
	c.LastWrite = now
	c.mu.Unlock()
}

func (c *Connection) touchEnqueue(now time.Time) {
	c.mu.Lock()
	c.LastEnqueue = now
	c.mu.Unlock()
}
