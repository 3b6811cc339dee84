package packstream

import (
	"bytes"
	"testing"
)

func TestChunkRoundTripSingleChunk(t *testing.T) {
	var buf bytes.Buffer
	w := NewChunkWriter(&buf)
	payload := []byte("hello bolt")
	if err := w.WriteMessage(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewChunkReader(&buf)
	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

func TestChunkRoundTripMultiChunk(t *testing.T) {
	var buf bytes.Buffer
	w := NewChunkWriter(&buf)
	payload := bytes.Repeat([]byte{0xAB}, MaxChunkSize+100)
	if err := w.WriteMessage(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewChunkReader(&buf)
	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("multi-chunk payload mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestChunkNoopKeepAliveSkipped(t *testing.T) {
	var buf bytes.Buffer
	// Write a bare NOOP (zero-length chunk) before a real message.
	buf.Write([]byte{0x00, 0x00})
	w := NewChunkWriter(&buf)
	payload := []byte("after noop")
	if err := w.WriteMessage(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewChunkReader(&buf)
	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}
