package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// CompressedSecp256K1PublicKeySize is size of public key in compressed format
	CompressedSecp256K1PublicKeySize = 33
	// Secp256k1SignatureSize is R || S || V
	Secp256k1SignatureSize = 65
	secp256k1PrivateKeySize = 32

	// MLDSA44PublicKeySize is the size of an ML-DSA-44 (Dilithium2) public key
	MLDSA44PublicKeySize = mldsa44.PublicKeySize
	MLDSA44SignatureSize = mldsa44.SignatureSize
	mldsa44SeedSize      = 32
)

var (
	ErrInvalidSignature  = errors.New("signature verification failed")
	ErrInvalidPublicKey  = errors.New("invalid public key")
	ErrInvalidPrivateKey = errors.New("invalid private key")
	errSignerIsNil       = errors.New("signer is nil")
)

type (
	// InMemorySecp256K1Signer keeps the private key in memory. Signatures are over the
	// SHA-256 digest of the data.
	InMemorySecp256K1Signer struct {
		key *ecdsa.PrivateKey
	}

	secp256k1Verifier struct {
		pubKey []byte // compressed
	}

	// InMemoryEd25519Signer for using during development
	InMemoryEd25519Signer struct {
		key ed25519.PrivateKey
	}

	ed25519Verifier struct {
		key ed25519.PublicKey
	}

	// InMemoryMLDSA44Signer signs with the post-quantum ML-DSA-44 scheme.
	// Signing is deterministic, the same data always gets the same signature.
	InMemoryMLDSA44Signer struct {
		seed [mldsa44SeedSize]byte
		key  *mldsa44.PrivateKey
		pub  *mldsa44.PublicKey
	}

	mldsa44Verifier struct {
		key *mldsa44.PublicKey
		raw []byte
	}
)

// NewInMemorySecp256K1Signer generates a new random key.
func NewInMemorySecp256K1Signer() (*InMemorySecp256K1Signer, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	return &InMemorySecp256K1Signer{key: key}, nil
}

// NewInMemorySecp256K1SignerFromKey creates signer from 32 byte private key.
func NewInMemorySecp256K1SignerFromKey(privKey []byte) (*InMemorySecp256K1Signer, error) {
	if len(privKey) != secp256k1PrivateKeySize {
		return nil, fmt.Errorf("%w: length %d, expected %d", ErrInvalidPrivateKey, len(privKey), secp256k1PrivateKeySize)
	}
	key, err := ethcrypto.ToECDSA(privKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return &InMemorySecp256K1Signer{key: key}, nil
}

func (s *InMemorySecp256K1Signer) SignBytes(data []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errSignerIsNil
	}
	digest := sha256.Sum256(data)
	return ethcrypto.Sign(digest[:], s.key)
}

func (s *InMemorySecp256K1Signer) MarshalPrivateKey() ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errSignerIsNil
	}
	return ethcrypto.FromECDSA(s.key), nil
}

func (s *InMemorySecp256K1Signer) Verifier() (Verifier, error) {
	if s == nil || s.key == nil {
		return nil, errSignerIsNil
	}
	return &secp256k1Verifier{pubKey: ethcrypto.CompressPubkey(&s.key.PublicKey)}, nil
}

// NewVerifierSecp256k1 creates verifier from compressed public key.
func NewVerifierSecp256k1(compressedPubKey []byte) (Verifier, error) {
	if len(compressedPubKey) != CompressedSecp256K1PublicKeySize {
		return nil, fmt.Errorf("%w: length %d, expected %d", ErrInvalidPublicKey, len(compressedPubKey), CompressedSecp256K1PublicKeySize)
	}
	if _, err := ethcrypto.DecompressPubkey(compressedPubKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return &secp256k1Verifier{pubKey: compressedPubKey}, nil
}

func (v *secp256k1Verifier) VerifyBytes(sig []byte, data []byte) error {
	if len(sig) != Secp256k1SignatureSize {
		return fmt.Errorf("%w: signature length %d, expected %d", ErrInvalidSignature, len(sig), Secp256k1SignatureSize)
	}
	if recID := sig[Secp256k1SignatureSize-1]; recID > 1 {
		return fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, recID)
	}
	digest := sha256.Sum256(data)
	if !ethcrypto.VerifySignature(v.pubKey, digest[:], sig[:Secp256k1SignatureSize-1]) {
		return ErrInvalidSignature
	}
	// R || S verifies with both recovery ids, only the one recovering the
	// signing key is accepted
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil || !bytes.Equal(ethcrypto.CompressPubkey(pub), v.pubKey) {
		return fmt.Errorf("%w: recovery id does not match the key", ErrInvalidSignature)
	}
	return nil
}

func (v *secp256k1Verifier) MarshalPublicKey() ([]byte, error) {
	return v.pubKey, nil
}

// NewInMemoryEd25519Signer generates new key and creates a new InMemoryEd25519Signer.
func NewInMemoryEd25519Signer() (*InMemoryEd25519Signer, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewInMemoryEd25519SignerFromSeed(privateKey.Seed())
}

// NewInMemoryEd25519SignerFromSeed creates new InMemoryEd25519Signer from private key seed bytes.
func NewInMemoryEd25519SignerFromSeed(seed []byte) (*InMemoryEd25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed length %d, expected %d", ErrInvalidPrivateKey, len(seed), ed25519.SeedSize)
	}
	return &InMemoryEd25519Signer{key: ed25519.NewKeyFromSeed(seed)}, nil
}

func (s *InMemoryEd25519Signer) SignBytes(data []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errSignerIsNil
	}
	return ed25519.Sign(s.key, data), nil
}

func (s *InMemoryEd25519Signer) MarshalPrivateKey() ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errSignerIsNil
	}
	return s.key.Seed(), nil
}

func (s *InMemoryEd25519Signer) Verifier() (Verifier, error) {
	if s == nil || s.key == nil {
		return nil, errSignerIsNil
	}
	return &ed25519Verifier{key: s.key.Public().(ed25519.PublicKey)}, nil
}

// NewEd25519Verifier creates verifier from 32 byte public key.
func NewEd25519Verifier(pubKey []byte) (Verifier, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: length %d, expected %d", ErrInvalidPublicKey, len(pubKey), ed25519.PublicKeySize)
	}
	return &ed25519Verifier{key: ed25519.PublicKey(pubKey)}, nil
}

func (v *ed25519Verifier) VerifyBytes(sig []byte, data []byte) error {
	if !ed25519.Verify(v.key, data, sig) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *ed25519Verifier) MarshalPublicKey() ([]byte, error) {
	return v.key, nil
}

// NewInMemoryMLDSA44Signer generates a new random key.
func NewInMemoryMLDSA44Signer() (*InMemoryMLDSA44Signer, error) {
	seed := make([]byte, mldsa44SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generating ml-dsa-44 seed: %w", err)
	}
	return NewInMemoryMLDSA44SignerFromSeed(seed)
}

// NewInMemoryMLDSA44SignerFromSeed derives the key pair from a 32 byte seed.
func NewInMemoryMLDSA44SignerFromSeed(seed []byte) (*InMemoryMLDSA44Signer, error) {
	if len(seed) != mldsa44SeedSize {
		return nil, fmt.Errorf("%w: seed length %d, expected %d", ErrInvalidPrivateKey, len(seed), mldsa44SeedSize)
	}
	s := &InMemoryMLDSA44Signer{}
	copy(s.seed[:], seed)
	s.pub, s.key = mldsa44.NewKeyFromSeed(&s.seed)
	return s, nil
}

func (s *InMemoryMLDSA44Signer) SignBytes(data []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errSignerIsNil
	}
	sig := make([]byte, mldsa44.SignatureSize)
	if err := mldsa44.SignTo(s.key, data, nil, false, sig); err != nil {
		return nil, fmt.Errorf("ml-dsa-44 sign: %w", err)
	}
	return sig, nil
}

// MarshalPrivateKey returns the seed the key was derived from.
func (s *InMemoryMLDSA44Signer) MarshalPrivateKey() ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errSignerIsNil
	}
	return bytes.Clone(s.seed[:]), nil
}

func (s *InMemoryMLDSA44Signer) Verifier() (Verifier, error) {
	if s == nil || s.key == nil {
		return nil, errSignerIsNil
	}
	raw, err := s.pub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &mldsa44Verifier{key: s.pub, raw: raw}, nil
}

// NewMLDSA44Verifier creates verifier from the packed 1312 byte public key.
func NewMLDSA44Verifier(pubKey []byte) (Verifier, error) {
	if len(pubKey) != mldsa44.PublicKeySize {
		return nil, fmt.Errorf("%w: length %d, expected %d", ErrInvalidPublicKey, len(pubKey), mldsa44.PublicKeySize)
	}
	key := &mldsa44.PublicKey{}
	if err := key.UnmarshalBinary(pubKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return &mldsa44Verifier{key: key, raw: bytes.Clone(pubKey)}, nil
}

func (v *mldsa44Verifier) VerifyBytes(sig []byte, data []byte) error {
	if len(sig) != mldsa44.SignatureSize {
		return fmt.Errorf("%w: signature length %d, expected %d", ErrInvalidSignature, len(sig), mldsa44.SignatureSize)
	}
	if !mldsa44.Verify(v.key, data, nil, sig) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *mldsa44Verifier) MarshalPublicKey() ([]byte, error) {
	return v.raw, nil
}

// NewVerifier picks the signature scheme from the public key encoding:
// 33 bytes is a compressed secp256k1 key, 32 bytes an ed25519 key and
// 1312 bytes an ML-DSA-44 key.
func NewVerifier(pubKey []byte) (Verifier, error) {
	switch len(pubKey) {
	case CompressedSecp256K1PublicKeySize:
		return NewVerifierSecp256k1(pubKey)
	case ed25519.PublicKeySize:
		return NewEd25519Verifier(pubKey)
	case mldsa44.PublicKeySize:
		return NewMLDSA44Verifier(pubKey)
	default:
		return nil, fmt.Errorf("%w: unsupported key length %d", ErrInvalidPublicKey, len(pubKey))
	}
}

// Verify checks sig over data by the owner of pubKey.
func Verify(pubKey, sig, data []byte) error {
	v, err := NewVerifier(pubKey)
	if err != nil {
		return err
	}
	return v.VerifyBytes(sig, data)
}
