package network

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// serializeMsg encodes msg as CBOR prefixed with uvarint length of the data.
func serializeMsg(msg any) ([]byte, error) {
	data, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling %T as CBOR: %w", msg, err)
	}
	buf := make([]byte, 0, len(data)+binary.MaxVarintLen64)
	buf = binary.AppendUvarint(buf, uint64(len(data)))
	return append(buf, data...), nil
}

// deserializeMsg reads one length prefixed CBOR item written by serializeMsg.
// Items longer than maxSize are rejected before reading the data.
func deserializeMsg(r io.Reader, msg any, maxSize uint64) error {
	br, ok := r.(io.ByteReader)
	if !ok {
		bufr := bufio.NewReader(r)
		br, r = bufr, bufr
	}
	length, err := binary.ReadUvarint(br)
	if err != nil {
		return fmt.Errorf("reading data length: %w", err)
	}
	if length == 0 {
		return errors.New("unexpected data length zero")
	}
	if length > maxSize {
		return fmt.Errorf("data length %d exceeds limit %d", length, maxSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("reading message data: %w", err)
	}
	if err := cbor.Unmarshal(buf, msg); err != nil {
		return fmt.Errorf("decoding message data: %w", err)
	}
	return nil
}
