package storage

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// ResumeState is the sidecar record persisted next to an abandoned partial
// file. It lets a later resume continue the full-file digest instead of
// rehashing the bytes already on disk.
type ResumeState struct {
	// DeclaredSize is the total size announced by the original upload.
	DeclaredSize int64 `msgpack:"declared_size"`
	// Received is the partial-file size when the state was saved.
	Received int64 `msgpack:"received"`
	// SHAState is the marshalled SHA-256 accumulator covering Received bytes.
	SHAState []byte `msgpack:"sha_state"`
}

// Partial is an exclusively-held, append-positioned handle on an in-progress
// upload. Exactly one of Commit or Abandon must be called; both close the
// file and release the per-name writer slot.
type Partial struct {
	store    *Store
	name     string
	f        *os.File
	received int64
	done     bool
}

// Name returns the logical filename being uploaded.
func (p *Partial) Name() string { return p.name }

// Size returns the partial-file byte count, including any resumed prefix.
func (p *Partial) Size() int64 { return p.received }

// Write appends the next received chunk to the partial file.
func (p *Partial) Write(b []byte) (int, error) {
	n, err := p.f.Write(b)
	p.received += int64(n)
	if err != nil {
		return n, fmt.Errorf("write partial %s: %w", p.name, err)
	}
	return n, nil
}

// Commit atomically promotes the partial file to the committed filename,
// replacing any previous committed file of the same name. The promotion is a
// single rename syscall: a concurrent reader sees either the old file or the
// new one, never an in-between state.
func (p *Partial) Commit() error {
	if p.done {
		return fmt.Errorf("partial %s already finished", p.name)
	}
	p.done = true
	defer p.store.release(p.name)

	if err := p.f.Sync(); err != nil {
		_ = p.f.Close()
		return fmt.Errorf("sync partial %s: %w", p.name, err)
	}
	if err := p.f.Close(); err != nil {
		return fmt.Errorf("close partial %s: %w", p.name, err)
	}
	if err := os.Rename(p.store.partialPath(p.name), p.store.committedPath(p.name)); err != nil {
		return fmt.Errorf("commit %s: %w", p.name, err)
	}
	// Sidecar is only meaningful next to a partial.
	_ = os.Remove(p.store.statePath(p.name))
	return nil
}

// Abandon closes the handle and leaves the partial file on disk as resumable
// state. When state is non-nil it is persisted as the resume sidecar; a nil
// state removes any stale sidecar so a later resume falls back to rehashing.
// The partial file itself is never deleted here.
func (p *Partial) Abandon(state *ResumeState) error {
	if p.done {
		return fmt.Errorf("partial %s already finished", p.name)
	}
	p.done = true
	defer p.store.release(p.name)

	if err := p.f.Close(); err != nil {
		return fmt.Errorf("close partial %s: %w", p.name, err)
	}
	if state == nil {
		_ = os.Remove(p.store.statePath(p.name))
		return nil
	}
	return p.store.saveResumeState(p.name, state)
}

func (s *Store) saveResumeState(name string, state *ResumeState) error {
	data, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode resume state %s: %w", name, err)
	}
	// Written via temp+rename so a crash mid-write leaves no torn sidecar.
	tmp := s.statePath(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write resume state %s: %w", name, err)
	}
	if err := os.Rename(tmp, s.statePath(name)); err != nil {
		return fmt.Errorf("save resume state %s: %w", name, err)
	}
	return nil
}

// LoadResumeState reads the sidecar for name. Returns (nil, nil) when no
// sidecar exists; callers then rehash the on-disk prefix instead. A sidecar
// that fails to decode is treated the same way and discarded.
func (s *Store) LoadResumeState(name string) (*ResumeState, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.statePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read resume state %s: %w", name, err)
	}
	var state ResumeState
	if err := msgpack.Unmarshal(data, &state); err != nil {
		_ = os.Remove(s.statePath(name))
		return nil, nil
	}
	return &state, nil
}

// OpenPartialForRead opens the raw partial file for reading. Used to rehash
// the already-received prefix when no resume sidecar is available.
func (s *Store) OpenPartialForRead(name string) (*os.File, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(s.partialPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &StoreError{Kind: ErrNotFound, Op: "open_partial", Name: name,
				Err: fmt.Errorf("no partial file to resume")}
		}
		return nil, fmt.Errorf("open partial %s: %w", name, err)
	}
	return f, nil
}
