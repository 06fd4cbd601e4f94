package crypto

import (
	"bytes"
	gocrypto "crypto"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecp256k1_SignAndVerify(t *testing.T) {
	signer, err := NewInMemorySecp256K1Signer()
	require.NoError(t, err)
	data := []byte("hello")
	sig, err := signer.SignBytes(data)
	require.NoError(t, err)
	require.Len(t, sig, Secp256k1SignatureSize)

	verifier, err := signer.Verifier()
	require.NoError(t, err)
	require.NoError(t, verifier.VerifyBytes(sig, data))
	require.ErrorIs(t, verifier.VerifyBytes(sig, []byte("hellO")), ErrInvalidSignature)
	require.ErrorIs(t, verifier.VerifyBytes(sig[:10], data), ErrInvalidSignature)

	pub, err := verifier.MarshalPublicKey()
	require.NoError(t, err)
	require.Len(t, pub, CompressedSecp256K1PublicKeySize)
	require.NoError(t, Verify(pub, sig, data))
}

func TestSecp256k1_RestoreFromPrivateKey(t *testing.T) {
	signer, err := NewInMemorySecp256K1Signer()
	require.NoError(t, err)
	key, err := signer.MarshalPrivateKey()
	require.NoError(t, err)

	restored, err := NewInMemorySecp256K1SignerFromKey(key)
	require.NoError(t, err)
	sig, err := restored.SignBytes([]byte{1, 2, 3})
	require.NoError(t, err)
	v, err := signer.Verifier()
	require.NoError(t, err)
	require.NoError(t, v.VerifyBytes(sig, []byte{1, 2, 3}))

	_, err = NewInMemorySecp256K1SignerFromKey([]byte{1})
	require.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestSecp256k1_RecoveryID(t *testing.T) {
	signer, err := NewInMemorySecp256K1Signer()
	require.NoError(t, err)
	verifier, err := signer.Verifier()
	require.NoError(t, err)
	data := []byte("tx")
	sig, err := signer.SignBytes(data)
	require.NoError(t, err)
	recID := sig[Secp256k1SignatureSize-1]

	tests := []struct {
		name  string
		recID byte
		valid bool
	}{
		{name: "as signed", recID: recID, valid: true},
		{name: "flipped", recID: recID ^ 1},
		{name: "legacy offset", recID: recID + 27},
		{name: "out of range", recID: 2},
		{name: "max", recID: 0xff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := bytes.Clone(sig)
			c[Secp256k1SignatureSize-1] = tt.recID
			if tt.valid {
				require.NoError(t, verifier.VerifyBytes(c, data))
			} else {
				require.ErrorIs(t, verifier.VerifyBytes(c, data), ErrInvalidSignature)
			}
		})
	}
}

func TestMLDSA44_SignAndVerify(t *testing.T) {
	signer, err := NewInMemoryMLDSA44Signer()
	require.NoError(t, err)
	data := []byte("hello")
	sig, err := signer.SignBytes(data)
	require.NoError(t, err)
	require.Len(t, sig, MLDSA44SignatureSize)

	// deterministic, a tx signed twice has one id
	again, err := signer.SignBytes(data)
	require.NoError(t, err)
	require.Equal(t, sig, again)

	v, err := signer.Verifier()
	require.NoError(t, err)
	pub, err := v.MarshalPublicKey()
	require.NoError(t, err)
	require.Len(t, pub, MLDSA44PublicKeySize)
	require.NoError(t, Verify(pub, sig, data))
	require.ErrorIs(t, Verify(pub, sig, []byte("hellO")), ErrInvalidSignature)
	require.ErrorIs(t, Verify(pub, sig[:100], data), ErrInvalidSignature)

	tampered := bytes.Clone(sig)
	tampered[10] ^= 1
	require.ErrorIs(t, Verify(pub, tampered, data), ErrInvalidSignature)

	// restored from seed
	seed, err := signer.MarshalPrivateKey()
	require.NoError(t, err)
	restored, err := NewInMemoryMLDSA44SignerFromSeed(seed)
	require.NoError(t, err)
	rv, err := restored.Verifier()
	require.NoError(t, err)
	rpub, err := rv.MarshalPublicKey()
	require.NoError(t, err)
	require.Equal(t, pub, rpub)

	_, err = NewInMemoryMLDSA44SignerFromSeed([]byte{1})
	require.ErrorIs(t, err, ErrInvalidPrivateKey)
	var nilSigner *InMemoryMLDSA44Signer
	_, err = nilSigner.SignBytes(data)
	require.ErrorIs(t, err, errSignerIsNil)
}

func TestEd25519_SignAndVerify(t *testing.T) {
	signer, err := NewInMemoryEd25519Signer()
	require.NoError(t, err)
	sig, err := signer.SignBytes([]byte("data"))
	require.NoError(t, err)
	v, err := signer.Verifier()
	require.NoError(t, err)
	pub, err := v.MarshalPublicKey()
	require.NoError(t, err)
	require.NoError(t, Verify(pub, sig, []byte("data")))
	require.ErrorIs(t, Verify(pub, sig, []byte("date")), ErrInvalidSignature)
}

func TestNewVerifier_UnknownKeyLength(t *testing.T) {
	_, err := NewVerifier(make([]byte, 20))
	require.ErrorIs(t, err, ErrInvalidPublicKey)
	_, err = NewVerifierSecp256k1(make([]byte, CompressedSecp256K1PublicKeySize))
	require.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestNilSigner(t *testing.T) {
	var s *InMemorySecp256K1Signer
	_, err := s.SignBytes([]byte{1})
	require.ErrorIs(t, err, errSignerIsNil)
}

func TestHashAlgorithms(t *testing.T) {
	for _, name := range []string{"sha256", "sha3-256", "blake2b-256"} {
		t.Run(name, func(t *testing.T) {
			alg, err := HashAlgorithmFromString(name)
			require.NoError(t, err)
			require.NoError(t, ValidateHashAlgorithm(alg))
			h1 := Sum(alg, []byte("a"), []byte("b"))
			h2 := Sum(alg, []byte("ab"))
			require.Equal(t, h1, h2)
			require.False(t, h1.IsZero())
		})
	}
	_, err := HashAlgorithmFromString("md5")
	require.ErrorIs(t, err, ErrUnsupportedHashAlgorithm)
	require.ErrorIs(t, ValidateHashAlgorithm(gocrypto.SHA512), ErrUnsupportedHashAlgorithm)
}

func TestHash_StringRoundTrip(t *testing.T) {
	h := Sum(DefaultHashAlgorithm, []byte("x"))
	parsed, err := HashFromString("0x" + h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)
	_, err = HashFromString("abcd")
	require.Error(t, err)
	require.True(t, Hash{0}.Less(Hash{1}))
	require.False(t, Hash{1}.Less(Hash{1}))
}
