package types

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

var (
	// encMode produces the canonical encoding: core deterministic CBOR, so
	// equal values always encode to identical bytes.
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(fmt.Errorf("initializing CBOR encoder: %w", err))
	}
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}
	if decMode, err = decOpts.DecMode(); err != nil {
		panic(fmt.Errorf("initializing CBOR decoder: %w", err))
	}
}

// Marshal encodes v canonically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v using the strict decoder.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

var errNotCanonical = errors.New("encoding is not canonical")

// decodeCanonical decodes data into v and requires data to be exactly the
// canonical encoding of the result, which also rules out trailing bytes.
func decodeCanonical(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return err
	}
	enc, err := encMode.Marshal(v)
	if err != nil {
		return err
	}
	if !bytes.Equal(enc, data) {
		return errNotCanonical
	}
	return nil
}

// NewEncoder returns a canonical stream encoder writing to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a strict stream decoder reading from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
