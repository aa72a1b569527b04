package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"
)

func wholeDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestIncrementalMatchesWhole(t *testing.T) {
	data := make([]byte, 10*4096+1)
	for i := range data {
		data[i] = byte(i * 31)
	}

	tests := []struct {
		name   string
		chunks []int
	}{
		{name: "single write", chunks: []int{len(data)}},
		{name: "byte at a time prefix", chunks: []int{1, 1, 1, len(data) - 3}},
		{name: "chunk sized", chunks: []int{4096, 4096, 4096, 4096, 4096, 4096, 4096, 4096, 4096, 4096, 1}},
		{name: "uneven boundaries", chunks: []int{7, 4095, 4097, 1, len(data) - 8200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			off := 0
			for _, n := range tt.chunks {
				if _, err := s.Write(data[off : off+n]); err != nil {
					t.Fatalf("Write failed: %v", err)
				}
				off += n
			}
			if off != len(data) {
				t.Fatalf("test chunks cover %d bytes, want %d", off, len(data))
			}
			if got, want := s.SumHex(), wholeDigest(data); got != want {
				t.Errorf("SumHex = %s, want %s", got, want)
			}
		})
	}
}

func TestEmptyDigest(t *testing.T) {
	if got, want := New().SumHex(), wholeDigest(nil); got != want {
		t.Errorf("SumHex = %s, want %s", got, want)
	}
}

func TestStateSaveRestore(t *testing.T) {
	data := []byte("the first half and then the second half")
	split := 19

	s := New()
	if _, err := s.Write(data[:split]); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	state, err := s.State()
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}

	// A restored accumulator fed the tail must yield the whole-file digest.
	restored, err := Restore(state)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if _, err := restored.Write(data[split:]); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got, want := restored.SumHex(), wholeDigest(data); got != want {
		t.Errorf("resumed SumHex = %s, want %s", got, want)
	}
}

func TestRestoreInvalidState(t *testing.T) {
	if _, err := Restore([]byte("not a sha256 state blob")); err == nil {
		t.Error("Restore with garbage state succeeded, want error")
	}
}

func TestTee(t *testing.T) {
	data := []byte("streamed through a tee reader")
	s := New()

	out, err := io.ReadAll(s.Tee(bytes.NewReader(data)))
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("Tee altered data: %q", out)
	}
	if got, want := s.SumHex(), wholeDigest(data); got != want {
		t.Errorf("SumHex = %s, want %s", got, want)
	}
}
