// Package overlay implements the peer-to-peer transport core of a
// validator node: handshake and per-message authentication, two-axis
// credit-based flow control, pull-based transaction flooding, and the
// liveness checks that decide when a connection is no longer worth keeping.
//
// The package owns exactly one connection's worth of state per
// PeerSession. Peer discovery, persistence, consensus, and ledger storage
// are collaborators it calls through narrow interfaces (collaborators.go)
// and never reaches into directly.
package overlay
