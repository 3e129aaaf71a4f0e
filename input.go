package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how the input stream is compressed.
type Compression string

const (
	CompressionAuto Compression = "auto"
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

var (
	magicGzip   = []byte{0x1f, 0x8b}
	magicZstd   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLZ4    = []byte{0x04, 0x22, 0x4d, 0x18}
	magicPcapng = []byte{0x0a, 0x0d, 0x0d, 0x0a}
)

// sniffLen is how much of the stream auto detection may look at.
const sniffLen = 512

func parseCompression(name string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(name))); c {
	case "":
		return CompressionAuto, nil
	case CompressionAuto, CompressionNone, CompressionGzip, CompressionZstd, CompressionLZ4:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

// openInput opens path ("-" is stdin). Closing the returned closer unblocks a
// pending read on stdin.
func openInput(path string, stdin io.ReadCloser) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return stdin, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

// Input is a decompressed, buffered input stream.
type Input struct {
	*bufio.Reader
	Compression Compression
	closers     []io.Closer
}

// NewInput wraps r with the decompressor named by c. With CompressionAuto the
// leading bytes decide.
func NewInput(r io.Reader, c Compression) (*Input, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	if c == CompressionAuto {
		c = sniffCompression(br)
	}

	in := &Input{Compression: c}
	switch c {
	case CompressionNone:
		in.Reader = br
	case CompressionGzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip input: %w", err)
		}
		in.Reader = bufio.NewReaderSize(zr, 64*1024)
		in.closers = append(in.closers, zr)
	case CompressionZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd input: %w", err)
		}
		in.Reader = bufio.NewReaderSize(zr, 64*1024)
		in.closers = append(in.closers, zr.IOReadCloser())
	case CompressionLZ4:
		in.Reader = bufio.NewReaderSize(lz4.NewReader(br), 64*1024)
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
	return in, nil
}

// sniffCompression picks a decompressor from the leading bytes. Anything
// that does not carry a complete, plausible header is plain text. More than
// the first few bytes are only awaited once a magic number matched.
func sniffCompression(br *bufio.Reader) Compression {
	head, _ := br.Peek(5)
	switch {
	case bytes.HasPrefix(head, magicGzip):
		if full, _ := br.Peek(sniffLen); isGzipHeader(full) {
			return CompressionGzip
		}
	// Reserved frame header descriptor bit must be clear.
	case len(head) == 5 && bytes.HasPrefix(head, magicZstd) && head[4]&0x08 == 0:
		return CompressionZstd
	// Frame descriptor version must be 01.
	case len(head) == 5 && bytes.HasPrefix(head, magicLZ4) && head[4]&0xc0 == 0x40:
		return CompressionLZ4
	}
	return CompressionNone
}

// isGzipHeader requires deflate (CM 8), clear reserved flags and a member
// header that parses. A header running past a full sniff window is accepted.
func isGzipHeader(head []byte) bool {
	if len(head) < 10 || !bytes.HasPrefix(head, magicGzip) || head[2] != 8 || head[3]&0xe0 != 0 {
		return false
	}
	_, err := gzip.NewReader(bytes.NewReader(head))
	if err == nil {
		return true
	}
	cut := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
	return cut && len(head) == sniffLen
}

// IsCapture reports whether the decompressed stream starts with a pcap
// header (version 2.4) or a pcapng section header block.
func (in *Input) IsCapture() bool {
	head, _ := in.Peek(4)
	if len(head) < 4 || !isCaptureMagic(head) {
		return false
	}
	head, _ = in.Peek(28)
	return isCaptureHeader(head)
}

func isCaptureMagic(head []byte) bool {
	switch binary.BigEndian.Uint32(head) {
	case 0x0a0d0d0a, 0xa1b2c3d4, 0xa1b23c4d, 0xd4c3b2a1, 0x4d3cb2a1:
		return true
	}
	return false
}

func isCaptureHeader(head []byte) bool {
	if len(head) >= 12 && bytes.HasPrefix(head, magicPcapng) {
		bom := binary.BigEndian.Uint32(head[8:12])
		return bom == 0x1a2b3c4d || bom == 0x4d3c2b1a
	}
	if len(head) < 24 {
		return false
	}
	var order binary.ByteOrder
	switch binary.BigEndian.Uint32(head) {
	case 0xa1b2c3d4, 0xa1b23c4d:
		order = binary.BigEndian
	case 0xd4c3b2a1, 0x4d3cb2a1:
		order = binary.LittleEndian
	default:
		return false
	}
	return order.Uint16(head[4:6]) == 2 && order.Uint16(head[6:8]) == 4
}

// Close releases decompressor state. The underlying source is closed by its
// owner.
func (in *Input) Close() error {
	var first error
	for _, c := range in.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
