// Package client implements the peer side of the transfer protocol: one
// TCP connection, strictly sequential operations, end-to-end digest
// verification on every transfer.
package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/ftecho/checksum"
	"github.com/justapithecus/ftecho/wire"
)

// DefaultChunkSize is the data-frame payload size for uploads.
const DefaultChunkSize = 4096

// ErrChecksumMismatch reports that a completed transfer's digest did not
// match the peer's.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// RemoteError is an E frame from the server. The connection remains usable
// after one.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string {
	return "server: " + e.Msg
}

// IsRemote reports whether err is a server-reported failure rather than a
// transport or protocol fault.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// Entry is one row of a listing.
type Entry struct {
	Name string
	Size int64
}

// Options tune a Client beyond its defaults.
type Options struct {
	ChunkSize   int
	DialTimeout time.Duration
}

// Client is a connected protocol peer. It is not safe for concurrent use;
// the protocol itself is sequential per connection.
type Client struct {
	conn      net.Conn
	dec       *wire.Decoder
	enc       *wire.Encoder
	chunkSize int
}

// Dial connects to a server and returns a ready Client.
func Dial(addr string, opts Options) (*Client, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{
		conn:      conn,
		dec:       wire.NewDecoder(bufio.NewReader(conn)),
		enc:       wire.NewEncoder(conn),
		chunkSize: opts.ChunkSize,
	}, nil
}

// Close performs the QUIT exchange and closes the connection. Safe to call
// after a transport failure.
func (c *Client) Close() error {
	// Best-effort goodbye; the close matters more than the acknowledgement.
	if err := c.send(wire.TypeQuit, nil); err == nil {
		_, _ = c.dec.ReadFrame()
	}
	return c.conn.Close()
}

func (c *Client) send(tag byte, payload []byte) error {
	return c.enc.WriteFrame(wire.Frame{Type: tag, Payload: payload})
}

// expect reads one frame and requires the given tag, translating E frames
// into RemoteError.
func (c *Client) expect(tag byte) (wire.Frame, error) {
	f, err := c.dec.ReadFrame()
	if err != nil {
		return wire.Frame{}, err
	}
	if f.Type == wire.TypeError {
		return wire.Frame{}, &RemoteError{Msg: string(f.Payload)}
	}
	if f.Type != tag {
		return wire.Frame{}, fmt.Errorf("expected '%c' frame, got '%c'", tag, f.Type)
	}
	return f, nil
}

// ListFiles fetches the committed-file listing.
func (c *Client) ListFiles() ([]Entry, error) {
	if err := c.send(wire.TypeList, nil); err != nil {
		return nil, err
	}
	f, err := c.expect(wire.TypeOK)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, line := range strings.Split(strings.TrimRight(string(f.Payload), "\n"), "\n") {
		if line == "" {
			continue
		}
		name, sizeStr, ok := strings.Cut(line, "|")
		if !ok {
			return nil, fmt.Errorf("malformed listing line %q", line)
		}
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed listing size %q: %w", sizeStr, err)
		}
		entries = append(entries, Entry{Name: name, Size: size})
	}
	return entries, nil
}

// TransferResult describes a completed, digest-verified transfer.
type TransferResult struct {
	Bytes  int64
	Digest string
}

// GetFile downloads name into w, verifying the streamed digest.
func (c *Client) GetFile(name string, w io.Writer) (TransferResult, error) {
	if err := c.send(wire.TypeGet, []byte(name)); err != nil {
		return TransferResult{}, err
	}
	f, err := c.expect(wire.TypeOK)
	if err != nil {
		return TransferResult{}, err
	}
	var meta struct {
		Size int64 `json:"size"`
	}
	if err := json.Unmarshal(f.Payload, &meta); err != nil {
		return TransferResult{}, fmt.Errorf("bad download metadata: %w", err)
	}
	return c.receiveStream(w, meta.Size)
}

// ResumeGet downloads the tail of name from offset into w. The verified
// digest covers the tail only.
func (c *Client) ResumeGet(name string, offset int64, w io.Writer) (TransferResult, error) {
	req := fmt.Sprintf("%s|%d|get", name, offset)
	if err := c.send(wire.TypeResume, []byte(req)); err != nil {
		return TransferResult{}, err
	}
	f, err := c.expect(wire.TypeOK)
	if err != nil {
		return TransferResult{}, err
	}
	var meta struct {
		Size   int64 `json:"size"`
		Offset int64 `json:"offset"`
	}
	if err := json.Unmarshal(f.Payload, &meta); err != nil {
		return TransferResult{}, fmt.Errorf("bad download metadata: %w", err)
	}
	return c.receiveStream(w, meta.Size-meta.Offset)
}

// receiveStream reads F frames totalling want bytes, then the S digest.
func (c *Client) receiveStream(w io.Writer, want int64) (TransferResult, error) {
	sum := checksum.New()
	var got int64
	for got < want {
		f, err := c.dec.ReadFrame()
		if err != nil {
			return TransferResult{}, fmt.Errorf("download interrupted: %w", err)
		}
		if f.Type != wire.TypeData {
			return TransferResult{}, fmt.Errorf("expected 'F' frame, got '%c'", f.Type)
		}
		if got+int64(len(f.Payload)) > want {
			return TransferResult{}, fmt.Errorf("server sent %d bytes past the announced size", got+int64(len(f.Payload))-want)
		}
		if _, err := w.Write(f.Payload); err != nil {
			return TransferResult{}, fmt.Errorf("write download: %w", err)
		}
		_, _ = sum.Write(f.Payload)
		got += int64(len(f.Payload))
	}

	f, err := c.expect(wire.TypeSum)
	if err != nil {
		return TransferResult{}, err
	}
	digest := sum.SumHex()
	if digest != string(f.Payload) {
		return TransferResult{}, fmt.Errorf("%w: local %s, server %s",
			ErrChecksumMismatch, digest, f.Payload)
	}
	return TransferResult{Bytes: got, Digest: digest}, nil
}

// PutFile uploads size bytes from r under name and verifies the server's
// committed digest against the bytes actually sent.
func (c *Client) PutFile(name string, r io.Reader, size int64) (TransferResult, error) {
	meta, _ := json.Marshal(struct {
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
	}{Filename: name, Size: size})
	if err := c.send(wire.TypePut, meta); err != nil {
		return TransferResult{}, err
	}
	if _, err := c.expect(wire.TypeOK); err != nil {
		return TransferResult{}, err
	}

	sum := checksum.New()
	sent, err := c.sendStream(sum.Tee(r), size)
	if err != nil {
		return TransferResult{}, err
	}

	f, err := c.expect(wire.TypeOK)
	if err != nil {
		return TransferResult{}, err
	}
	digest := sum.SumHex()
	if digest != string(f.Payload) {
		return TransferResult{}, fmt.Errorf("%w: local %s, server %s",
			ErrChecksumMismatch, digest, f.Payload)
	}
	return TransferResult{Bytes: sent, Digest: digest}, nil
}

// ResumePut continues an interrupted upload. src must supply the WHOLE
// file: the first offset bytes are consumed locally to seed the digest and
// the remainder is streamed, terminated by an S frame carrying the
// full-file digest for the server to verify before committing.
func (c *Client) ResumePut(name string, src io.Reader, offset int64) (TransferResult, error) {
	req := fmt.Sprintf("%s|%d|put", name, offset)
	if err := c.send(wire.TypeResume, []byte(req)); err != nil {
		return TransferResult{}, err
	}
	if _, err := c.expect(wire.TypeOK); err != nil {
		return TransferResult{}, err
	}

	sum := checksum.New()
	if _, err := io.CopyN(sum, src, offset); err != nil {
		return TransferResult{}, fmt.Errorf("hash resumed prefix: %w", err)
	}

	sent, err := c.sendStream(sum.Tee(src), -1)
	if err != nil {
		return TransferResult{}, err
	}

	digest := sum.SumHex()
	if err := c.send(wire.TypeSum, []byte(digest)); err != nil {
		return TransferResult{}, err
	}
	f, err := c.expect(wire.TypeOK)
	if err != nil {
		return TransferResult{}, err
	}
	if digest != string(f.Payload) {
		return TransferResult{}, fmt.Errorf("%w: local %s, server %s",
			ErrChecksumMismatch, digest, f.Payload)
	}
	return TransferResult{Bytes: sent, Digest: digest}, nil
}

// sendStream writes r as F frames. A non-negative want caps the bytes sent
// to exactly that count; want < 0 streams until EOF.
func (c *Client) sendStream(r io.Reader, want int64) (int64, error) {
	buf := make([]byte, c.chunkSize)
	var sent int64
	for want < 0 || sent < want {
		limit := int64(len(buf))
		if want >= 0 && want-sent < limit {
			limit = want - sent
		}
		n, err := io.ReadFull(r, buf[:limit])
		if n > 0 {
			if werr := c.send(wire.TypeData, buf[:n]); werr != nil {
				return sent, fmt.Errorf("upload interrupted: %w", werr)
			}
			sent += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			if want >= 0 && sent < want {
				return sent, fmt.Errorf("source ended after %d of %d bytes", sent, want)
			}
			return sent, nil
		}
		if err != nil {
			return sent, fmt.Errorf("read source: %w", err)
		}
	}
	return sent, nil
}
