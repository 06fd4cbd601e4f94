package testsig

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/ledgercore/internal/crypto"
)

func SignBytes(t *testing.T, sigData []byte) ([]byte, []byte) {
	signer, verifier := CreateSignerAndVerifier(t)
	sig, err := signer.SignBytes(sigData)
	require.NoError(t, err)

	pubKey, err := verifier.MarshalPublicKey()
	require.NoError(t, err)

	return sig, pubKey
}

func CreateSignerAndVerifier(t *testing.T) (crypto.Signer, crypto.Verifier) {
	t.Helper()
	signer, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)

	verifier, err := signer.Verifier()
	require.NoError(t, err)
	return signer, verifier
}

// CreateSigners returns n signers with their public keys.
func CreateSigners(t *testing.T, n int) ([]crypto.Signer, [][]byte) {
	t.Helper()
	signers := make([]crypto.Signer, n)
	pubKeys := make([][]byte, n)
	for i := 0; i < n; i++ {
		s, v := CreateSignerAndVerifier(t)
		pub, err := v.MarshalPublicKey()
		require.NoError(t, err)
		signers[i] = s
		pubKeys[i] = pub
	}
	return signers, pubKeys
}
