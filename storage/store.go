package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	// PartialSuffix marks an in-progress upload on disk.
	PartialSuffix = ".part"
	// stateSuffix marks the resume-metadata sidecar next to a partial file.
	stateSuffix = ".part.sum"
)

// FileEntry is one committed file in the namespace.
type FileEntry struct {
	Name string
	Size int64
}

// Store owns a flat file namespace under a single root directory.
//
// Committed files live directly under the root by name. In-progress uploads
// live next to them as <name>.part, with resume metadata in <name>.part.sum.
// A file is either fully committed (visible to List) or a partial (invisible);
// the atomic rename in Commit is what moves between the two states.
//
// A Store is safe for concurrent use. At most one writer may hold an open
// partial for a given name at a time; readers are never locked.
type Store struct {
	root string

	// writers is the active-writer set, keyed by logical filename.
	mu      sync.Mutex
	writers map[string]struct{}
}

// Open creates the root directory if needed and returns a Store over it.
func Open(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", abs, err)
	}
	return &Store{
		root:    abs,
		writers: make(map[string]struct{}),
	}, nil
}

// Root returns the absolute storage root directory.
func (s *Store) Root() string { return s.root }

// ValidateName rejects names that could escape the root or collide with the
// reserved partial markers. Runs before any filesystem access.
func ValidateName(name string) error {
	if name == "" {
		return &StoreError{Kind: ErrInvalidFilename, Op: "validate", Name: name,
			Err: fmt.Errorf("empty name")}
	}
	if strings.ContainsAny(name, "/\\") {
		return &StoreError{Kind: ErrInvalidFilename, Op: "validate", Name: name,
			Err: fmt.Errorf("path separator not allowed")}
	}
	if name == "." || name == ".." {
		return &StoreError{Kind: ErrInvalidFilename, Op: "validate", Name: name,
			Err: fmt.Errorf("directory reference not allowed")}
	}
	if strings.ContainsRune(name, 0) {
		return &StoreError{Kind: ErrInvalidFilename, Op: "validate", Name: name,
			Err: fmt.Errorf("NUL not allowed")}
	}
	if strings.HasSuffix(name, PartialSuffix) || strings.HasSuffix(name, stateSuffix) {
		return &StoreError{Kind: ErrInvalidFilename, Op: "validate", Name: name,
			Err: fmt.Errorf("reserved suffix")}
	}
	return nil
}

func (s *Store) committedPath(name string) string {
	return filepath.Join(s.root, name)
}

func (s *Store) partialPath(name string) string {
	return filepath.Join(s.root, name+PartialSuffix)
}

func (s *Store) statePath(name string) string {
	return filepath.Join(s.root, name+stateSuffix)
}

// List returns a snapshot of committed files, sorted by name. Partial files
// and their sidecars are never listed. The snapshot tolerates concurrent
// commits; it reflects whichever state each entry is in when visited.
func (s *Store) List() ([]FileEntry, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read storage root: %w", err)
	}

	files := make([]FileEntry, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if strings.HasSuffix(name, PartialSuffix) || strings.HasSuffix(name, stateSuffix) {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info (e.g. admin deletion).
			continue
		}
		files = append(files, FileEntry{Name: name, Size: info.Size()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// ResolveCommitted returns the on-disk path and size of a committed file.
func (s *Store) ResolveCommitted(name string) (string, int64, error) {
	if err := ValidateName(name); err != nil {
		return "", 0, err
	}
	path := s.committedPath(name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, &StoreError{Kind: ErrNotFound, Op: "resolve", Name: name}
		}
		return "", 0, fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		return "", 0, &StoreError{Kind: ErrNotFound, Op: "resolve", Name: name}
	}
	return path, info.Size(), nil
}

// OpenCommitted opens a committed file for reading. Reads take no lock; the
// atomic rename in Commit guarantees a reader sees either the old or the new
// content in full.
func (s *Store) OpenCommitted(name string) (*os.File, int64, error) {
	path, size, err := s.ResolveCommitted(name)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", name, err)
	}
	return f, size, nil
}

// PartialSize returns the byte count of the partial file for name, or 0 when
// no partial exists. Resume offsets are validated against this value.
func (s *Store) PartialSize(name string) (int64, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	info, err := os.Stat(s.partialPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat partial %s: %w", name, err)
	}
	return info.Size(), nil
}

// HasPartial reports whether a partial file exists for name.
func (s *Store) HasPartial(name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(s.partialPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat partial %s: %w", name, err)
	}
	return true, nil
}

// acquire registers name in the active-writer set.
// A second concurrent writer gets ErrBusy instead of blocking.
func (s *Store) acquire(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.writers[name]; held {
		return &StoreError{Kind: ErrBusy, Op: "acquire", Name: name}
	}
	s.writers[name] = struct{}{}
	return nil
}

func (s *Store) release(name string) {
	s.mu.Lock()
	delete(s.writers, name)
	s.mu.Unlock()
}

// StartPartial opens a fresh partial file for name at offset 0, truncating
// any abandoned partial from an earlier attempt, and registers the caller as
// its exclusive writer.
//
// The returned Partial must be finished with exactly one of Commit or
// Abandon; both release the writer slot.
func (s *Store) StartPartial(name string) (*Partial, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.acquire(name); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(s.partialPath(name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		s.release(name)
		return nil, fmt.Errorf("create partial %s: %w", name, err)
	}
	// Whatever sidecar described the truncated bytes is stale now.
	_ = os.Remove(s.statePath(name))
	return &Partial{store: s, name: name, f: f}, nil
}

// ResumePartial opens an existing partial file for name positioned at
// expectedOffset and registers the caller as its exclusive writer.
//
// The partial must exist and its size must equal expectedOffset exactly (the
// server's authority over the offset is absolute), otherwise ErrNotFound or
// ErrOffsetMismatch and the partial is left unmodified. An offset of 0 is
// valid only for an empty partial.
func (s *Store) ResumePartial(name string, expectedOffset int64) (*Partial, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if expectedOffset < 0 {
		return nil, &StoreError{Kind: ErrOffsetMismatch, Op: "resume_partial", Name: name,
			Err: fmt.Errorf("negative offset %d", expectedOffset)}
	}
	if err := s.acquire(name); err != nil {
		return nil, err
	}

	p, err := s.resumePartialLocked(name, expectedOffset)
	if err != nil {
		s.release(name)
		return nil, err
	}
	return p, nil
}

func (s *Store) resumePartialLocked(name string, expectedOffset int64) (*Partial, error) {
	path := s.partialPath(name)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &StoreError{Kind: ErrNotFound, Op: "resume_partial", Name: name,
				Err: fmt.Errorf("no partial file to resume")}
		}
		return nil, fmt.Errorf("stat partial %s: %w", name, err)
	}
	if info.Size() != expectedOffset {
		return nil, &StoreError{Kind: ErrOffsetMismatch, Op: "resume_partial", Name: name,
			Err: fmt.Errorf("partial has %d bytes, client declared %d", info.Size(), expectedOffset)}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open partial %s: %w", name, err)
	}
	return &Partial{store: s, name: name, f: f, received: expectedOffset}, nil
}
