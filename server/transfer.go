package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/justapithecus/ftecho/checksum"
	"github.com/justapithecus/ftecho/iox"
	"github.com/justapithecus/ftecho/storage"
	"github.com/justapithecus/ftecho/wire"
)

// Operation names used for metrics and logs.
const (
	opList      = "list"
	opGet       = "get"
	opPut       = "put"
	opResume    = "resume"
	opResumeGet = "resume_get"
	opResumePut = "resume_put"
	opQuit      = "quit"
)

// errOpFailed marks a recoverable operation failure whose E frame has
// already been sent. The connection returns to the top-level loop.
var errOpFailed = errors.New("operation failed")

func isOpError(err error) bool {
	return errors.Is(err, errOpFailed)
}

// failOp reports a recoverable failure to the peer and returns the marker.
// If even the E frame cannot be written, the transport is gone and the
// write error propagates instead, closing the connection.
func (sess *session) failOp(msg string) error {
	if err := sess.sendError(msg); err != nil {
		return err
	}
	return errOpFailed
}

// storageFailure renders a storage error as the peer-facing message.
func storageFailure(err error) string {
	switch {
	case errors.Is(err, storage.ErrInvalidFilename):
		return "Invalid filename: " + err.Error()
	case errors.Is(err, storage.ErrBusy):
		return "File busy: another upload holds this name"
	default:
		return err.Error()
	}
}

// handleList serves the L operation: one O frame carrying newline-joined
// name|size records for every committed file.
func (sess *session) handleList(payload []byte) error {
	sess.srv.metrics.IncOpStarted(opList)
	if len(payload) != 0 {
		return sess.failOp("LIST payload must be empty")
	}

	files, err := sess.srv.store.List()
	if err != nil {
		return sess.failOp("Listing failed: " + err.Error())
	}

	lines := make([]string, 0, len(files))
	for _, f := range files {
		lines = append(lines, fmt.Sprintf("%s|%d", f.Name, f.Size))
	}
	listing := strings.Join(lines, "\n") + "\n"

	sess.log.Info("listed files", zap.Int("count", len(files)))
	return sess.send(wire.TypeOK, []byte(listing))
}

// handleGet serves the G operation: O metadata, F chunks, S digest.
func (sess *session) handleGet(payload []byte) error {
	sess.srv.metrics.IncOpStarted(opGet)
	name := strings.TrimSpace(string(payload))
	return sess.streamFile(name, 0, false)
}

// resumeGet behaves as GET from a byte offset; the digest covers only the
// streamed tail.
func (sess *session) resumeGet(name string, offset int64) error {
	return sess.streamFile(name, offset, true)
}

func (sess *session) streamFile(name string, offset int64, resumed bool) error {
	f, size, err := sess.srv.store.OpenCommitted(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return sess.failOp("File not found: " + name)
		}
		return sess.failOp(storageFailure(err))
	}
	defer iox.DiscardClose(f)

	if resumed {
		if offset >= size {
			return sess.failOp(fmt.Sprintf("Offset %d exceeds file size %d", offset, size))
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return sess.failOp("Seek failed: " + err.Error())
		}
		meta, _ := json.Marshal(struct {
			Size   int64 `json:"size"`
			Offset int64 `json:"offset"`
		}{Size: size, Offset: offset})
		if err := sess.send(wire.TypeOK, meta); err != nil {
			return err
		}
	} else {
		meta, _ := json.Marshal(struct {
			Size int64 `json:"size"`
		}{Size: size})
		if err := sess.send(wire.TypeOK, meta); err != nil {
			return err
		}
	}

	// One-directional push: no acknowledgement between chunks.
	sum := checksum.New()
	r := sum.Tee(f)
	buf := make([]byte, sess.srv.chunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if werr := sess.send(wire.TypeData, buf[:n]); werr != nil {
				return werr
			}
			sess.srv.metrics.AddBytesSent(int64(n))
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			// Disk failure mid-stream: the byte-count contract with the peer
			// is broken, so the connection cannot be reused.
			return fmt.Errorf("read %s: %w", name, err)
		}
	}

	digest := sum.SumHex()
	if err := sess.send(wire.TypeSum, []byte(digest)); err != nil {
		return err
	}
	sess.log.Info("served file",
		zap.String("file", name),
		zap.Int64("size", size),
		zap.Int64("offset", offset),
		zap.String("sha256", digest))
	return nil
}

// putMeta is the strict upload announcement. Unknown or missing fields are
// rejected before any bytes are written.
type putMeta struct {
	Filename string
	Size     int64
}

func parsePutMeta(payload []byte) (putMeta, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var raw struct {
		Filename *string `json:"filename"`
		Size     *int64  `json:"size"`
	}
	if err := dec.Decode(&raw); err != nil {
		return putMeta{}, fmt.Errorf("invalid metadata: %w", err)
	}
	if dec.More() {
		return putMeta{}, fmt.Errorf("invalid metadata: trailing data")
	}
	if raw.Filename == nil {
		return putMeta{}, fmt.Errorf("invalid metadata: missing filename")
	}
	if raw.Size == nil {
		return putMeta{}, fmt.Errorf("invalid metadata: missing size")
	}
	if *raw.Size < 0 {
		return putMeta{}, fmt.Errorf("invalid metadata: negative size %d", *raw.Size)
	}
	return putMeta{Filename: *raw.Filename, Size: *raw.Size}, nil
}

// handlePut serves the P operation: strict JSON metadata, O ready, F chunks
// until the declared byte count is reached, atomic commit, O digest.
func (sess *session) handlePut(payload []byte) error {
	sess.srv.metrics.IncOpStarted(opPut)
	meta, err := parsePutMeta(payload)
	if err != nil {
		return sess.failOp("Invalid metadata: " + err.Error())
	}

	p, err := sess.srv.store.StartPartial(meta.Filename)
	if err != nil {
		return sess.failOp(storageFailure(err))
	}

	if err := sess.send(wire.TypeOK, []byte("Ready to receive")); err != nil {
		sess.abandon(p, meta.Size, nil)
		return err
	}

	sum := checksum.New()
	if err := sess.receiveDeclared(p, sum, meta.Size); err != nil {
		return err
	}

	if err := p.Commit(); err != nil {
		return sess.failOp("Commit failed: " + err.Error())
	}

	digest := sum.SumHex()
	sess.log.Info("stored file",
		zap.String("file", meta.Filename),
		zap.Int64("size", meta.Size),
		zap.String("sha256", digest))
	return sess.send(wire.TypeOK, []byte(digest))
}

// receiveDeclared reads F frames into p until declared bytes have arrived.
// The contract is a byte count, not a frame count; chunk boundaries carry no
// meaning beyond delimiting. On any failure the partial is abandoned with
// resumable state, never deleted.
func (sess *session) receiveDeclared(p *storage.Partial, sum *checksum.Stream, declared int64) error {
	for p.Size() < declared {
		f, err := sess.readFrame()
		if err != nil {
			sess.abandon(p, declared, sum)
			return fmt.Errorf("receive interrupted: %w", err)
		}
		if f.Type != wire.TypeData {
			sess.abandon(p, declared, sum)
			return sess.failOp(fmt.Sprintf("Expected 'F' chunk, got '%c'", f.Type))
		}
		if p.Size()+int64(len(f.Payload)) > declared {
			sess.abandon(p, declared, sum)
			return sess.failOp(fmt.Sprintf(
				"Size mismatch: declared %d, would exceed with %d",
				declared, p.Size()+int64(len(f.Payload))))
		}
		if _, err := p.Write(f.Payload); err != nil {
			sess.abandon(p, declared, sum)
			return sess.failOp("Write failed: " + err.Error())
		}
		_, _ = sum.Write(f.Payload)
		sess.srv.metrics.AddBytesReceived(int64(len(f.Payload)))
	}
	return nil
}

// abandon leaves the partial on disk for a later resume, persisting the
// digest state alongside when available.
func (sess *session) abandon(p *storage.Partial, declared int64, sum *checksum.Stream) {
	var state *storage.ResumeState
	if sum != nil {
		if shaState, err := sum.State(); err == nil {
			state = &storage.ResumeState{
				DeclaredSize: declared,
				Received:     p.Size(),
				SHAState:     shaState,
			}
		}
	}
	if err := p.Abandon(state); err != nil {
		sess.log.Warn("abandon failed", zap.String("file", p.Name()), zap.Error(err))
		return
	}
	sess.log.Info("upload abandoned, partial kept",
		zap.String("file", p.Name()),
		zap.Int64("received", p.Size()))
}

// handleResume parses the R payload (filename|offset|direction) and hands
// off to the matching direction.
func (sess *session) handleResume(payload []byte) bool {
	parts := strings.SplitN(string(payload), "|", 3)
	if len(parts) != 3 {
		sess.srv.metrics.IncOpStarted(opResume)
		return sess.finishOp(opResume, sess.failOp("Invalid RESUME format: want filename|offset|direction"))
	}
	name := parts[0]
	offset, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || offset < 0 {
		sess.srv.metrics.IncOpStarted(opResume)
		return sess.finishOp(opResume, sess.failOp("Invalid RESUME offset: "+parts[1]))
	}

	switch parts[2] {
	case "get":
		sess.srv.metrics.IncOpStarted(opResumeGet)
		return sess.finishOp(opResumeGet, sess.resumeGet(name, offset))
	case "put":
		sess.srv.metrics.IncOpStarted(opResumePut)
		return sess.finishOp(opResumePut, sess.resumePut(name, offset))
	default:
		sess.srv.metrics.IncOpStarted(opResume)
		return sess.finishOp(opResume, sess.failOp("Invalid direction: "+parts[2]))
	}
}

// resumePut continues an interrupted upload. The stream has no declared
// size; the client terminates it with an S frame carrying its full-file
// digest, which the server verifies before committing.
func (sess *session) resumePut(name string, offset int64) error {
	p, err := sess.srv.store.ResumePartial(name, offset)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return sess.failOp("No partial file found for resume: " + name)
		case errors.Is(err, storage.ErrOffsetMismatch):
			return sess.failOp("Offset mismatch: " + err.Error())
		default:
			return sess.failOp(storageFailure(err))
		}
	}

	declared := int64(0)
	sum, err := sess.seedDigest(name, offset, &declared)
	if err != nil {
		sess.abandon(p, declared, nil)
		return sess.failOp("Resume failed: " + err.Error())
	}

	ready, _ := json.Marshal(struct {
		Offset int64 `json:"offset"`
		Ready  bool  `json:"ready"`
	}{Offset: offset, Ready: true})
	if err := sess.send(wire.TypeOK, ready); err != nil {
		sess.abandon(p, declared, sum)
		return err
	}

	for {
		f, err := sess.readFrame()
		if err != nil {
			sess.abandon(p, declared, sum)
			return fmt.Errorf("resume receive interrupted: %w", err)
		}
		switch f.Type {
		case wire.TypeData:
			if _, err := p.Write(f.Payload); err != nil {
				sess.abandon(p, declared, sum)
				return sess.failOp("Write failed: " + err.Error())
			}
			_, _ = sum.Write(f.Payload)
			sess.srv.metrics.AddBytesReceived(int64(len(f.Payload)))
		case wire.TypeSum:
			clientDigest := string(f.Payload)
			serverDigest := sum.SumHex()
			if serverDigest != clientDigest {
				sess.abandon(p, declared, sum)
				return sess.failOp(fmt.Sprintf(
					"Checksum mismatch: server=%s, client=%s", serverDigest, clientDigest))
			}
			if err := p.Commit(); err != nil {
				return sess.failOp("Commit failed: " + err.Error())
			}
			sess.log.Info("resumed upload committed",
				zap.String("file", name),
				zap.Int64("total", p.Size()),
				zap.String("sha256", serverDigest))
			return sess.send(wire.TypeOK, []byte(serverDigest))
		default:
			sess.abandon(p, declared, sum)
			return sess.failOp(fmt.Sprintf("Unexpected message type: %c", f.Type))
		}
	}
}

// seedDigest produces an accumulator covering the first offset bytes of the
// partial, so the final digest spans the whole logical file. The sidecar
// saved at abandon time is the fast path; without one the on-disk prefix is
// rehashed, which is what the peer's digest covers either way.
func (sess *session) seedDigest(name string, offset int64, declared *int64) (*checksum.Stream, error) {
	state, err := sess.srv.store.LoadResumeState(name)
	if err != nil {
		return nil, err
	}
	if state != nil && state.Received == offset {
		*declared = state.DeclaredSize
		if sum, err := checksum.Restore(state.SHAState); err == nil {
			return sum, nil
		}
		// Unusable state blob; fall through to rehashing.
	}

	f, err := sess.srv.store.OpenPartialForRead(name)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(f)

	sum := checksum.New()
	if _, err := io.CopyN(sum, f, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("rehash partial %s: %w", name, err)
	}
	return sum, nil
}
