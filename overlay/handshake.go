package overlay

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Identity is a node's long-term signing keypair. The public half is the
// value carried as HelloMsg.PeerID and compared for self-connect and
// duplicate-peer detection.
type Identity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func GenerateIdentity() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Public: pub, Private: priv}, nil
}

// Authenticator runs the handshake state machine for one Connection and,
// once GOT_AUTH, computes and verifies the per-message MAC. One instance is
// owned by exactly one PeerSession; it holds no reference back to the
// session, only what it needs to authenticate frames.
type Authenticator struct {
	identity Identity

	ephemeralPriv [32]byte
	ephemeralPub  [32]byte

	keys macKeys
}

// NewAuthenticator creates an Authenticator with a fresh ephemeral X25519
// keypair, as required for every new connection (the ephemeral key must
// never be reused across connections).
func NewAuthenticator(identity Identity) (*Authenticator, error) {
	a := &Authenticator{identity: identity}
	if _, err := io.ReadFull(rand.Reader, a.ephemeralPriv[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(a.ephemeralPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(a.ephemeralPub[:], pub)
	return a, nil
}

// MakeCert signs the authenticator's ephemeral public key with the node's
// long-term key, binding it for expiresAt.
func (a *Authenticator) MakeCert(expiresAt time.Time) AuthCert {
	cert := AuthCert{Expiration: uint64(expiresAt.Unix())}
	copy(cert.Pubkey[:], a.ephemeralPub[:])
	sig := ed25519.Sign(a.identity.Private, certSignedBytes(cert.Pubkey, cert.Expiration))
	copy(cert.Sig[:], sig)
	return cert
}

func certSignedBytes(pubkey [32]byte, expiration uint64) []byte {
	buf := make([]byte, 40)
	copy(buf, pubkey[:])
	binary.BigEndian.PutUint64(buf[32:], expiration)
	return buf
}

// VerifyCert checks the certificate signature against the claimed long-term
// public key and its expiry.
func VerifyCert(claimedIdentity [32]byte, cert AuthCert, now time.Time) error {
	if now.Unix() > int64(cert.Expiration) {
		return Errorf(ErrBadCert, "certificate expired at %d, now %d", cert.Expiration, now.Unix())
	}
	pub := ed25519.PublicKey(claimedIdentity[:])
	if !ed25519.Verify(pub, certSignedBytes(cert.Pubkey, cert.Expiration), cert.Sig[:]) {
		return Errorf(ErrBadCert, "certificate signature invalid")
	}
	return nil
}

// roleTag is the HKDF info byte for the direction whose sender has the given
// role, so that the two directions of key derivation cannot coincide.
func roleTag(role Role) byte {
	if role == RoleWeInitiated {
		return 0x01
	}
	return 0x02
}

// DeriveKeys computes the per-direction MAC keys via ECDH between the local
// ephemeral private key and the peer's ephemeral public key, passed through
// HKDF keyed with both nonces and a role tag. The send key for side A
// equals the receive key for side B: both sides derive the same
// "initiator-to-responder" key (tagged with the initiator's role) and
// "responder-to-initiator" key (tagged with the responder's role), and each
// side picks its send/recv key according to its own role.
func (a *Authenticator) DeriveKeys(localNonce, remoteNonce [32]byte, remoteEphemeralPub [32]byte, role Role) error {
	shared, err := curve25519.X25519(a.ephemeralPriv[:], remoteEphemeralPub[:])
	if err != nil {
		return Wrap(ErrBadCert, err)
	}

	var initNonce, respNonce [32]byte
	if role == RoleWeInitiated {
		initNonce, respNonce = localNonce, remoteNonce
	} else {
		initNonce, respNonce = remoteNonce, localNonce
	}
	salt := append(append([]byte{}, initNonce[:]...), respNonce[:]...)
	okm := make([]byte, 64)
	for i, sender := range []Role{RoleWeInitiated, RoleTheyInitiated} {
		kdf := hkdf.New(sha256.New, shared, salt, []byte{roleTag(sender)})
		if _, err := io.ReadFull(kdf, okm[i*32:(i+1)*32]); err != nil {
			return Wrap(ErrBadCert, err)
		}
	}
	initToResp, respToInit := okm[:32], okm[32:]

	if role == RoleWeInitiated {
		a.keys = macKeys{send: initToResp, recv: respToInit}
	} else {
		a.keys = macKeys{send: respToInit, recv: initToResp}
	}
	return nil
}

// ComputeMAC computes the MAC over (seq || encoded-body) with the send
// key.
func (a *Authenticator) ComputeMAC(seq uint64, body []byte) [32]byte {
	return macOver(a.keys.send, seq, body)
}

// VerifyMAC checks a received MAC against the recv key.
func (a *Authenticator) VerifyMAC(seq uint64, body []byte, mac [32]byte) bool {
	want := macOver(a.keys.recv, seq, body)
	return hmac.Equal(want[:], mac[:])
}

func macOver(key []byte, seq uint64, body []byte) [32]byte {
	h := hmac.New(sha256.New, key)
	var seqbuf [8]byte
	binary.BigEndian.PutUint64(seqbuf[:], seq)
	h.Write(seqbuf[:])
	h.Write(body)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// EphemeralPublicKey returns the ephemeral X25519 public key to carry in the
// outgoing authentication certificate.
func (a *Authenticator) EphemeralPublicKey() [32]byte { return a.ephemeralPub }
