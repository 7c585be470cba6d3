package exchange

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestStore_ReadRelative(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(filepath.Join(s.Root(), "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := s.Read("notes.txt")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Expected hello, got %q", data)
	}
}

func TestStore_ReadAbsolute(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "elsewhere.txt")
	if err := os.WriteFile(path, []byte("outside"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "outside" {
		t.Errorf("Expected outside, got %q", data)
	}
}

func TestStore_ReadOrEmpty(t *testing.T) {
	s := newTestStore(t)

	data := s.ReadOrEmpty("does-not-exist.bin")
	if data == nil || len(data) != 0 {
		t.Errorf("Expected empty payload, got %v", data)
	}
}

func TestStore_SaveReceived(t *testing.T) {
	s := newTestStore(t)

	path, err := s.SaveReceived("report.pdf", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("SaveReceived failed: %v", err)
	}
	if filepath.Base(path) != "new_report.pdf" {
		t.Errorf("Expected new_report.pdf, got %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Errorf("Saved data mismatch: %v", data)
	}
}

func TestStore_SaveReceivedWithProgress(t *testing.T) {
	var progress bytes.Buffer
	s, err := NewStore(Config{Root: t.TempDir(), Progress: &progress})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	payload := bytes.Repeat([]byte("x"), 4096)
	path, err := s.SaveReceived("big.bin", payload)
	if err != nil {
		t.Fatalf("SaveReceived failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != int64(len(payload)) {
		t.Errorf("Expected %d bytes, got %d", len(payload), info.Size())
	}
}

func TestStore_SaveReceivedNestedName(t *testing.T) {
	s := newTestStore(t)

	path, err := s.SaveReceived("../docs/plan.md", []byte("plan"))
	if err != nil {
		t.Fatalf("SaveReceived failed: %v", err)
	}
	if filepath.Dir(path) != s.Root() {
		t.Errorf("Received files must land in the root, got %s", path)
	}
	if filepath.Base(path) != "new_plan.md" {
		t.Errorf("Expected new_plan.md, got %s", path)
	}
}

func TestExtractFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"file.txt", "file.txt"},
		{"dir/sub/file.txt", "file.txt"},
		{"../../etc/passwd", "passwd"},
		{"", "file"},
	}

	for _, tt := range tests {
		if got := ExtractFileName(tt.in); got != tt.want {
			t.Errorf("ExtractFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHashBytes(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashBytes([]byte("abc")); got != want {
		t.Errorf("HashBytes = %s, want %s", got, want)
	}
}
