package keyvaluedb

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	ErrInvalidKey = errors.New("invalid key")
	ErrValueIsNil = errors.New("value is nil")
)

type (
	EncodeFn func(v any) ([]byte, error)
	DecodeFn func(data []byte, v any) error
)

var encMode cbor.EncMode

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(fmt.Errorf("initializing CBOR encoder: %w", err))
	}
}

// Encode is the value encoding shared by all engines.
func Encode(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Decode is the counterpart of Encode.
func Decode(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func CheckKey(key []byte) error {
	if len(key) == 0 {
		return ErrInvalidKey
	}
	return nil
}

func CheckValue(val any) error {
	if val == nil {
		return ErrValueIsNil
	}
	if reflect.ValueOf(val).Kind() == reflect.Ptr && reflect.ValueOf(val).IsNil() {
		return ErrValueIsNil
	}
	return nil
}

func CheckKeyAndValue(key []byte, val any) error {
	if err := CheckKey(key); err != nil {
		return err
	}
	if err := CheckValue(val); err != nil {
		return err
	}
	return nil
}
