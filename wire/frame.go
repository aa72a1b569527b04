// Package wire implements FT-Echo message framing.
//
// A frame on the wire is a 4-byte unsigned big-endian length, one ASCII type
// tag, and length-1 payload bytes. The length always counts the tag, so a
// valid frame never declares a length of zero.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize minus the
	// length prefix and type tag).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize - 1
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Message type tags. One ASCII byte following the length prefix.
const (
	TypeList   byte = 'L' // request: list committed files
	TypeGet    byte = 'G' // request: download a file
	TypePut    byte = 'P' // request: upload a file
	TypeResume byte = 'R' // request: resume an interrupted get/put
	TypeQuit   byte = 'Q' // request: close the session
	TypeOK     byte = 'O' // response: success / metadata
	TypeError  byte = 'E' // response: recoverable operation failure
	TypeData   byte = 'F' // file content chunk (either direction)
	TypeSum    byte = 'S' // SHA-256 hex digest terminator
)

// KnownType reports whether tag is one of the defined message tags.
func KnownType(tag byte) bool {
	switch tag {
	case TypeList, TypeGet, TypePut, TypeResume, TypeQuit,
		TypeOK, TypeError, TypeData, TypeSum:
		return true
	}
	return false
}

// Frame is one decoded wire unit. Immutable once decoded.
type Frame struct {
	Type    byte
	Payload []byte
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorTruncated indicates the stream ended inside a frame.
	FrameErrorTruncated FrameErrorKind = iota
	// FrameErrorInvalidLength indicates a declared length of zero.
	FrameErrorInvalidLength
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorUnknownType indicates a type tag outside the defined set.
	FrameErrorUnknownType
)

// FrameError represents a frame decoding error. All kinds are fatal to the
// connection: once framing fails, the byte stream can no longer be
// re-synchronized to frame boundaries.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFrameError returns true if the error is a framing error.
func IsFrameError(err error) bool {
	var frameErr *FrameError
	return errors.As(err, &frameErr)
}

// Decoder decodes length-prefixed frames from a stream.
type Decoder struct {
	reader io.Reader
}

// NewDecoder creates a new frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: r}
}

// ReadFrame reads a single frame from the stream.
//
// Errors:
//   - io.EOF: stream ended cleanly between frames
//   - *FrameError with Kind=FrameErrorInvalidLength: declared length 0
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit
//   - *FrameError with Kind=FrameErrorUnknownType: undefined type tag
//   - *FrameError with Kind=FrameErrorTruncated: stream ended mid-frame
func (d *Decoder) ReadFrame() (Frame, error) {
	// Read 4-byte big-endian length prefix
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		// Partial read of length prefix
		return Frame{}, &FrameError{
			Kind: FrameErrorTruncated,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	// The length counts the type tag, so zero cannot delimit a frame.
	if length == 0 {
		return Frame{}, &FrameError{
			Kind: FrameErrorInvalidLength,
			Msg:  "declared frame length 0",
		}
	}

	// Validate size before reading the payload.
	if length-1 > MaxPayloadSize {
		return Frame{}, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", length-1, MaxPayloadSize),
		}
	}

	// Read type tag + payload in one pass.
	buf := make([]byte, length)
	_, err = io.ReadFull(d.reader, buf)
	if err != nil {
		return Frame{}, &FrameError{
			Kind: FrameErrorTruncated,
			Msg:  "failed to read frame body",
			Err:  err,
		}
	}

	if !KnownType(buf[0]) {
		return Frame{}, &FrameError{
			Kind: FrameErrorUnknownType,
			Msg:  fmt.Sprintf("unknown message type 0x%02x", buf[0]),
		}
	}

	return Frame{Type: buf[0], Payload: buf[1:]}, nil
}

// Encoder encodes frames onto a stream. It is the exact inverse of Decoder:
// encode followed by decode round-trips byte-for-byte.
type Encoder struct {
	writer io.Writer
}

// NewEncoder creates a new frame encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// WriteFrame writes a single frame to the stream.
func (e *Encoder) WriteFrame(f Frame) error {
	if len(f.Payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(f.Payload), MaxPayloadSize),
		}
	}
	buf := make([]byte, LengthPrefixSize+1+len(f.Payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(1+len(f.Payload)))
	buf[LengthPrefixSize] = f.Type
	copy(buf[LengthPrefixSize+1:], f.Payload)
	_, err := e.writer.Write(buf)
	return err
}
