package state

import (
	"hash"
	"hash/crc32"
	"io"
)

type (
	// CRC32Writer passes writes through and keeps a checksum of everything written.
	CRC32Writer struct {
		hasher hash.Hash32
		writer io.Writer
	}

	// CRC32Reader checksums a stream that has its checksum appended to the
	// end: the last checksumLength bytes are held back from the checksum.
	CRC32Reader struct {
		hasher         hash.Hash32
		reader         io.Reader
		buf            []byte
		checksumLength int
	}
)

func NewCRC32Writer(writer io.Writer) *CRC32Writer {
	return &CRC32Writer{hasher: crc32.NewIEEE(), writer: writer}
}

func (c *CRC32Writer) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	_, _ = c.hasher.Write(p[:n]) // #nosec G104
	return n, err
}

func (c *CRC32Writer) Sum() uint32 {
	return c.hasher.Sum32()
}

func NewCRC32Reader(reader io.Reader, checksumLength int) *CRC32Reader {
	return &CRC32Reader{
		hasher:         crc32.NewIEEE(),
		reader:         reader,
		buf:            make([]byte, 0, checksumLength),
		checksumLength: checksumLength,
	}
}

func (c *CRC32Reader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)

	// c.buf always holds the most recent checksumLength bytes, which may turn
	// out to be the checksum. Everything pushed out of it is data.
	c.buf = append(c.buf, p[:n]...)
	if extra := len(c.buf) - c.checksumLength; extra > 0 {
		_, _ = c.hasher.Write(c.buf[:extra]) // #nosec G104
		c.buf = append(c.buf[:0], c.buf[extra:]...)
	}
	return n, err
}

func (c *CRC32Reader) Sum() uint32 {
	return c.hasher.Sum32()
}
