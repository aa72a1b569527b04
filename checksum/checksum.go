// Package checksum computes the streaming SHA-256 digest of a transfer.
//
// A Stream accumulates bytes in the exact order they cross the wire; chunk
// boundaries do not affect the digest. The accumulator state can be saved and
// restored, which lets a resumed upload report a digest covering the whole
// logical file rather than only the appended tail.
package checksum

import (
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// Stream is an incremental SHA-256 accumulator.
// It implements io.Writer so it composes with io.MultiWriter and io.TeeReader.
type Stream struct {
	h hash.Hash
}

// New creates an empty accumulator.
func New() *Stream {
	return &Stream{h: sha256.New()}
}

// Restore creates an accumulator from state previously returned by State.
func Restore(state []byte) (*Stream, error) {
	h := sha256.New()
	u, ok := h.(encoding.BinaryUnmarshaler)
	if !ok {
		return nil, fmt.Errorf("sha256 state restore unsupported")
	}
	if err := u.UnmarshalBinary(state); err != nil {
		return nil, fmt.Errorf("restore sha256 state: %w", err)
	}
	return &Stream{h: h}, nil
}

// Write feeds the next chunk into the accumulator. Never fails.
func (s *Stream) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

// SumHex returns the lowercase hex digest of everything written so far.
func (s *Stream) SumHex() string {
	return hex.EncodeToString(s.h.Sum(nil))
}

// State returns the serialized accumulator state for later Restore.
func (s *Stream) State() ([]byte, error) {
	m, ok := s.h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("sha256 state save unsupported")
	}
	state, err := m.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("save sha256 state: %w", err)
	}
	return state, nil
}

// Tee returns a reader that feeds every byte read from r into the accumulator.
// Used on the send path, where file bytes stream out through the codec.
func (s *Stream) Tee(r io.Reader) io.Reader {
	return io.TeeReader(r, s)
}
