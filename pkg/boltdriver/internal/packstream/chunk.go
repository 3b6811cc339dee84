package packstream

import (
	"encoding/binary"
	"io"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"
)

// MaxChunkSize is the largest payload a single chunk body may carry; the
// 2-byte big-endian length header caps it at 65535 per spec.md §4.A.
const MaxChunkSize = 0xFFFF

// ChunkWriter splits a message payload into length-prefixed chunks
// terminated by a zero-length (0x0000) chunk, per spec.md §4.A.
type ChunkWriter struct {
	w io.Writer
}

func NewChunkWriter(w io.Writer) *ChunkWriter { return &ChunkWriter{w: w} }

// WriteMessage frames payload as one or more chunks followed by the
// message-terminating zero chunk.
func (c *ChunkWriter) WriteMessage(payload []byte) error {
	for len(payload) > 0 {
		n := len(payload)
		if n > MaxChunkSize {
			n = MaxChunkSize
		}
		if err := c.writeChunk(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return c.writeChunk(nil)
}

func (c *ChunkWriter) writeChunk(body []byte) error {
	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(body)))
	if _, err := c.w.Write(header[:]); err != nil {
		return errs.Wrap(errs.NetworkError, err, "writing chunk header")
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := c.w.Write(body); err != nil {
		return errs.Wrap(errs.NetworkError, err, "writing chunk body")
	}
	return nil
}

// ChunkReader reassembles chunks into complete message buffers. A
// zero-length chunk read while no bytes of the current message have been
// accumulated yet is a NOOP (keep-alive) and is silently consumed rather
// than treated as an empty message, per spec.md §4.A.
type ChunkReader struct {
	r io.Reader
}

func NewChunkReader(r io.Reader) *ChunkReader { return &ChunkReader{r: r} }

// ReadMessage blocks until a full message has been reassembled from one or
// more chunks, or returns an error. NOOP chunks encountered before any
// message bytes arrive are skipped transparently.
func (c *ChunkReader) ReadMessage() ([]byte, error) {
	var msg []byte
	for {
		n, err := c.readChunkHeader()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if len(msg) == 0 {
				// NOOP keep-alive: no message in progress, keep waiting.
				continue
			}
			return msg, nil
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(c.r, body); err != nil {
			return nil, errs.Wrap(errs.NetworkError, err, "reading chunk body of %d bytes", n)
		}
		msg = append(msg, body...)
	}
}

func (c *ChunkReader) readChunkHeader() (int, error) {
	var header [2]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return 0, errs.Wrap(errs.NetworkError, err, "reading chunk header")
	}
	return int(binary.BigEndian.Uint16(header[:])), nil
}
