package ipc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"lookback/internal/domain"
)

// MaxFrameSize caps the declared payload length. A length prefix above this
// is not a plausible frame: the stream is treated as corrupt and the control
// loop terminates.
const MaxFrameSize = 16 * 1024 * 1024

// FrameReader decodes length-prefixed JSON frames from a byte stream.
// Each frame is a uint32 little-endian length followed by exactly that many
// UTF-8 payload bytes. Reading is blocking and sequential.
type FrameReader struct {
	r io.Reader
}

// NewFrameReader creates a reader over r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Read returns the next frame payload. io.EOF signals a clean close at a
// frame boundary; a truncated length or payload yields io.ErrUnexpectedEOF;
// an implausible length yields a protocol error. All three are fatal to the
// read loop.
func (fr *FrameReader) Read() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, domain.NewDomainError("frame.read", domain.ErrProtocol,
			fmt.Sprintf("declared length %d exceeds limit", length))
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// FrameWriter encodes length-prefixed frames onto a byte stream. The length
// and payload are emitted as one buffered write under a mutex so concurrent
// writers cannot interleave frames.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameWriter creates a writer over w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// Write emits one frame.
func (fw *FrameWriter) Write(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return domain.NewDomainError("frame.write", domain.ErrProtocol,
			fmt.Sprintf("payload length %d exceeds limit", len(payload)))
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	buf := bufio.NewWriterSize(fw.w, 4+len(payload))
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := buf.Write(header[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := buf.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}
