package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCommit_ReplacesExistingFile(t *testing.T) {
	s := newTestStore(t)
	writeCommitted(t, s, "doc.txt", []byte("old content"))

	p, err := s.StartPartial("doc.txt")
	if err != nil {
		t.Fatalf("StartPartial failed: %v", err)
	}
	if _, err := p.Write([]byte("new content")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.Root(), "doc.txt"))
	if err != nil {
		t.Fatalf("read committed: %v", err)
	}
	if string(data) != "new content" {
		t.Errorf("content = %q, want %q", data, "new content")
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "doc.txt.part")); !os.IsNotExist(err) {
		t.Errorf("partial still on disk after commit")
	}
}

func TestCommit_RemovesSidecar(t *testing.T) {
	s := newTestStore(t)

	p, err := s.StartPartial("up.bin")
	if err != nil {
		t.Fatalf("StartPartial failed: %v", err)
	}
	if _, err := p.Write([]byte("half")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := p.Abandon(&ResumeState{DeclaredSize: 8, Received: 4, SHAState: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "up.bin.part.sum")); err != nil {
		t.Fatalf("sidecar missing after abandon: %v", err)
	}

	p, err = s.ResumePartial("up.bin", 4)
	if err != nil {
		t.Fatalf("ResumePartial failed: %v", err)
	}
	if _, err := p.Write([]byte("done")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(s.Root(), "up.bin.part.sum")); !os.IsNotExist(err) {
		t.Errorf("sidecar still on disk after commit")
	}
	data, err := os.ReadFile(filepath.Join(s.Root(), "up.bin"))
	if err != nil {
		t.Fatalf("read committed: %v", err)
	}
	if string(data) != "halfdone" {
		t.Errorf("content = %q, want %q", data, "halfdone")
	}
}

func TestAbandon_LeavesPartialOnDisk(t *testing.T) {
	s := newTestStore(t)

	p, err := s.StartPartial("up.bin")
	if err != nil {
		t.Fatalf("StartPartial failed: %v", err)
	}
	if _, err := p.Write([]byte("received so far")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := p.Abandon(nil); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.Root(), "up.bin.part"))
	if err != nil {
		t.Fatalf("partial gone after abandon: %v", err)
	}
	if string(data) != "received so far" {
		t.Errorf("partial content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "up.bin")); !os.IsNotExist(err) {
		t.Errorf("abandoned upload was committed")
	}
}

func TestResumeStateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	p, err := s.StartPartial("up.bin")
	if err != nil {
		t.Fatalf("StartPartial failed: %v", err)
	}
	if _, err := p.Write([]byte("0123")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	saved := &ResumeState{DeclaredSize: 1000, Received: 4, SHAState: []byte{9, 8, 7, 6}}
	if err := p.Abandon(saved); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}

	got, err := s.LoadResumeState("up.bin")
	if err != nil {
		t.Fatalf("LoadResumeState failed: %v", err)
	}
	if got == nil {
		t.Fatal("LoadResumeState returned nil, want state")
	}
	if got.DeclaredSize != saved.DeclaredSize || got.Received != saved.Received {
		t.Errorf("state = %+v, want %+v", got, saved)
	}
	if string(got.SHAState) != string(saved.SHAState) {
		t.Errorf("SHAState = %v, want %v", got.SHAState, saved.SHAState)
	}
}

func TestLoadResumeState_Missing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LoadResumeState("nothing.bin")
	if err != nil {
		t.Fatalf("LoadResumeState failed: %v", err)
	}
	if got != nil {
		t.Errorf("LoadResumeState = %+v, want nil", got)
	}
}

func TestLoadResumeState_CorruptSidecarDiscarded(t *testing.T) {
	s := newTestStore(t)
	sidecar := filepath.Join(s.Root(), "up.bin.part.sum")
	if err := os.WriteFile(sidecar, []byte("\xc1 not msgpack"), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	got, err := s.LoadResumeState("up.bin")
	if err != nil {
		t.Fatalf("LoadResumeState failed: %v", err)
	}
	if got != nil {
		t.Errorf("LoadResumeState = %+v, want nil for corrupt sidecar", got)
	}
	if _, err := os.Stat(sidecar); !os.IsNotExist(err) {
		t.Errorf("corrupt sidecar not removed")
	}
}

func TestPartial_DoubleFinish(t *testing.T) {
	s := newTestStore(t)
	p, err := s.StartPartial("up.bin")
	if err != nil {
		t.Fatalf("StartPartial failed: %v", err)
	}
	if err := p.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := p.Abandon(nil); err == nil {
		t.Error("Abandon after Commit succeeded, want error")
	}
}

func TestOpenPartialForRead(t *testing.T) {
	s := newTestStore(t)
	writeCommitted(t, s, "up.bin.part", []byte("prefix bytes"))

	f, err := s.OpenPartialForRead("up.bin")
	if err != nil {
		t.Fatalf("OpenPartialForRead failed: %v", err)
	}
	defer f.Close()

	if _, err := s.OpenPartialForRead("ghost.bin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("OpenPartialForRead(ghost) = %v, want ErrNotFound", err)
	}
}
