package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}

func TestWatcher_firesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.db")
	if err := writeFile(path, "v1"); err != nil {
		t.Fatal(err)
	}

	var fired int32
	w := NewWatcher(path, func() { atomic.AddInt32(&fired, 1) }, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := writeFile(path, "v2"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(600 * time.Millisecond)
	if atomic.LoadInt32(&fired) < 1 {
		t.Error("expected at least one change callback after a write")
	}
}

func TestWatcher_debouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.db")
	if err := writeFile(path, "v1"); err != nil {
		t.Fatal(err)
	}

	var fired int32
	w := NewWatcher(path, func() { atomic.AddInt32(&fired, 1) }, WithDebounce(200*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		if err := writeFile(path, "burst"); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(800 * time.Millisecond)

	got := atomic.LoadInt32(&fired)
	if got < 1 {
		t.Error("expected the burst to produce a callback")
	}
	if got >= 5 {
		t.Errorf("expected burst writes to be debounced, got %d callbacks", got)
	}
}

func TestWatcher_ignoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.db")
	if err := writeFile(path, "v1"); err != nil {
		t.Fatal(err)
	}

	var fired int32
	w := NewWatcher(path, func() { atomic.AddInt32(&fired, 1) }, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := writeFile(filepath.Join(dir, "unrelated.txt"), "noise"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Errorf("expected no callbacks for unrelated files, got %d", got)
	}
}

func TestWatcher_missingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "nope", "vectors.db"), func() {})
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Error("expected error starting a watcher on a missing directory")
	}
}

func TestWatcher_matches(t *testing.T) {
	w := NewWatcher("/data/vectors.db", nil)
	tests := []struct {
		name string
		want bool
	}{
		{"/data/vectors.db", true},
		{"/data/vectors.db-wal", true},
		{"/data/vectors.db-shm", true},
		{"/data/vectors.db-journal", true},
		{"/data/other.db", false},
		{"/data/vectors.db.bak", false},
	}
	for _, tt := range tests {
		if got := w.matches(tt.name); got != tt.want {
			t.Errorf("matches(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWatcher_stopPreventsCallbacks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.db")
	if err := writeFile(path, "v1"); err != nil {
		t.Fatal(err)
	}

	var fired int32
	w := NewWatcher(path, func() { atomic.AddInt32(&fired, 1) }, WithDebounce(100*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()

	if err := writeFile(path, "v2"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Errorf("expected no callbacks after Stop, got %d", got)
	}
}
