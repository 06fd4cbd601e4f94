package util

import (
	"github.com/holiman/uint256"
)

// Uint256ToBytes returns the 32 byte big endian encoding of i.
func Uint256ToBytes(i *uint256.Int) []byte {
	b := i.Bytes32()
	return b[:]
}

func BytesToUint256(b []byte) *uint256.Int {
	i := uint256.NewInt(0)
	return i.SetBytes(b)
}
