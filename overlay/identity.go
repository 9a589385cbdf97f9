package overlay

import "golang.org/x/crypto/blake2b"

// shortID renders a peer identity the way p2p.Peer.ID().TerminalString() does
// for log lines: short enough to scan, long enough to disambiguate two peers
// in the same log stream. blake2b, rather than truncating the ed25519 key
// directly, is used so the printed tag does not leak a prefix of the actual
// public key.
func shortID(pub [32]byte) string {
	sum := blake2b.Sum256(pub[:])
	const hextable = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 0; i < 8; i++ {
		out[i*2] = hextable[sum[i]>>4]
		out[i*2+1] = hextable[sum[i]&0xf]
	}
	return string(out)
}
