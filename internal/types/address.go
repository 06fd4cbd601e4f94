package types

import (
	gocrypto "crypto"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/alphabill-org/ledgercore/internal/crypto"
)

const AddressSize = 20

// Address identifies an account: the last AddressSize bytes of the hash of the owner public key.
type Address [AddressSize]byte

func NewAddress(hashAlgorithm gocrypto.Hash, pubKey []byte) Address {
	h := crypto.Sum(hashAlgorithm, pubKey)
	var a Address
	copy(a[:], h[crypto.HashSize-AddressSize:])
	return a
}

// AddressFromString parses base58 encoded address.
func AddressFromString(s string) (Address, error) {
	var a Address
	b := base58.Decode(s)
	if len(b) != AddressSize {
		return a, fmt.Errorf("invalid address %q: decoded length %d, expected %d", s, len(b), AddressSize)
	}
	copy(a[:], b)
	return a, nil
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

func (a Address) Bytes() []byte {
	return a[:]
}
