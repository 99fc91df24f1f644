package sweep

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSweepRemovesOnlyStaleArtifacts(t *testing.T) {
	dir := t.TempDir()

	stale := writeAged(t, dir, "salvage-aaa.log", 48*time.Hour)
	staleScript := writeAged(t, dir, "salvage-aaa.exp", 48*time.Hour)
	fresh := writeAged(t, dir, "salvage-bbb.log", time.Minute)
	unrelated := writeAged(t, dir, "other-ccc.log", 48*time.Hour)

	s, err := New(dir, "0 * * * *", 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if n := s.Sweep(); n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}
	for _, path := range []string{stale, staleScript} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s still exists", path)
		}
	}
	for _, path := range []string{fresh, unrelated} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s was removed", path)
		}
	}
}

func TestSweepMissingDir(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "gone"), "0 * * * *", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n := s.Sweep(); n != 0 {
		t.Errorf("Sweep() = %d, want 0", n)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New(t.TempDir(), "not a cron expr", time.Hour); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	s, err := New(t.TempDir(), "0 * * * *", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestIsArtifact(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"salvage-abc.log", true},
		{"salvage-abc.exp", true},
		{"salvage-abc.txt", false},
		{"recup_dir.1", false},
		{"prefix-salvage-abc.log", false},
	}
	for _, tt := range tests {
		if got := isArtifact(tt.name); got != tt.want {
			t.Errorf("isArtifact(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
