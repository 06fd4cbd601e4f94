package crypto

import (
	"bytes"
	gocrypto "crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"

	// register alternative hash functions with the crypto package
	_ "golang.org/x/crypto/blake2b"
	_ "golang.org/x/crypto/sha3"
)

// HashSize is the width of every Hash value.
const HashSize = 32

// DefaultHashAlgorithm is used when no algorithm is configured.
const DefaultHashAlgorithm = gocrypto.SHA256

var ErrUnsupportedHashAlgorithm = errors.New("unsupported hash algorithm")

// Hash is a fixed width digest used as block id, transaction id and commitment root.
type Hash [HashSize]byte

// ZeroHash is the parent hash of the genesis block.
var ZeroHash Hash

// ValidateHashAlgorithm accepts only available algorithms producing HashSize byte digests.
func ValidateHashAlgorithm(alg gocrypto.Hash) error {
	if !alg.Available() {
		return fmt.Errorf("%w: %v is not linked into the binary", ErrUnsupportedHashAlgorithm, alg)
	}
	if alg.Size() != HashSize {
		return fmt.Errorf("%w: %v digest size is %d, expected %d", ErrUnsupportedHashAlgorithm, alg, alg.Size(), HashSize)
	}
	return nil
}

// HashAlgorithmFromString maps configuration names onto hash algorithms.
func HashAlgorithmFromString(name string) (gocrypto.Hash, error) {
	switch name {
	case "", "sha256", "SHA-256":
		return gocrypto.SHA256, nil
	case "sha3-256", "SHA3-256":
		return gocrypto.SHA3_256, nil
	case "blake2b-256", "BLAKE2b-256":
		return gocrypto.BLAKE2b_256, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedHashAlgorithm, name)
	}
}

// Sum hashes the concatenation of data with the given algorithm.
func Sum(alg gocrypto.Hash, data ...[]byte) Hash {
	h := alg.New()
	for _, d := range data {
		h.Write(d)
	}
	return FromHasher(h)
}

// FromHasher finalizes h into a Hash.
func FromHasher(h hash.Hash) Hash {
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashFromBytes converts b into a Hash, b must be exactly HashSize bytes long.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length %d, expected %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// HashFromString decodes hex encoded hash, with or without 0x prefix.
func HashFromString(s string) (Hash, error) {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decoding hash: %w", err)
	}
	return HashFromBytes(b)
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Less orders hashes bytewise, used as the fork choice tie-break.
func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns an abbreviated form for log messages.
func (h Hash) Short() string {
	s := h.String()
	return s[:8] + ".." + s[len(s)-4:]
}
