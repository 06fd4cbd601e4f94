package test

import (
	"crypto/rand"
	"fmt"

	"github.com/alphabill-org/ledgercore/internal/crypto"
)

func RandomBytes(len int) []byte {
	bytes := make([]byte, len)
	_, err := rand.Read(bytes)
	if err != nil {
		panic(err)
	}
	return bytes
}

func RandomString(len int) string {
	b := RandomBytes(len/2 + 1)
	return fmt.Sprintf("%x", b)[:len]
}

func RandomHash() crypto.Hash {
	var h crypto.Hash
	copy(h[:], RandomBytes(crypto.HashSize))
	return h
}
