package overlay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeriveKeysSymmetric(t *testing.T) {
	idA, err := GenerateIdentity()
	require.NoError(t, err)
	idB, err := GenerateIdentity()
	require.NoError(t, err)

	authA, err := NewAuthenticator(idA)
	require.NoError(t, err)
	authB, err := NewAuthenticator(idB)
	require.NoError(t, err)

	nonceA := randomNonce()
	nonceB := randomNonce()

	require.NoError(t, authA.DeriveKeys(nonceA, nonceB, authB.EphemeralPublicKey(), RoleWeInitiated))
	require.NoError(t, authB.DeriveKeys(nonceB, nonceA, authA.EphemeralPublicKey(), RoleTheyInitiated))

	body := []byte("hello-body")
	macFromA := authA.ComputeMAC(0, body)
	require.True(t, authB.VerifyMAC(0, body, macFromA))

	macFromB := authB.ComputeMAC(0, body)
	require.True(t, authA.VerifyMAC(0, body, macFromB))

	// The two directions must use distinct keys: a MAC computed on A's send
	// key must not verify against A's own recv key.
	require.False(t, authA.VerifyMAC(0, body, macFromA))
}

func TestCertVerifyRejectsExpiredAndTampered(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)
	auth, err := NewAuthenticator(id)
	require.NoError(t, err)

	var pub [32]byte
	copy(pub[:], id.Public)

	cert := auth.MakeCert(time.Now().Add(time.Hour))
	require.NoError(t, VerifyCert(pub, cert, time.Now()))

	expired := auth.MakeCert(time.Now().Add(-time.Second))
	require.Error(t, VerifyCert(pub, expired, time.Now()))

	tampered := cert
	tampered.Sig[0] ^= 0xFF
	require.Error(t, VerifyCert(pub, tampered, time.Now()))
}

func TestVerifyMACRejectsBitFlip(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)
	auth, err := NewAuthenticator(id)
	require.NoError(t, err)
	auth.keys = macKeys{send: []byte("0123456789abcdef0123456789abcdef"), recv: []byte("0123456789abcdef0123456789abcdef")}

	body := []byte("payload")
	mac := auth.ComputeMAC(5, body)
	mac[0] ^= 0x01
	require.False(t, auth.VerifyMAC(5, body, mac))
}
