package segment_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"camrecorder/internal/segment"
)

func TestCompleteTransitionsOnce(t *testing.T) {
	seg := segment.New("/tmp/a.mp4", time.Now(), time.Minute)
	if seg.Completion() != segment.Recording {
		t.Fatalf("new segment state = %s", seg.Completion())
	}
	if err := seg.Complete(segment.Recording, 0, 0); !errors.Is(err, segment.ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal, got %v", err)
	}
	if err := seg.Complete(segment.Partial, 30*time.Second, 10); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := seg.Complete(segment.Completed, time.Minute, 20); !errors.Is(err, segment.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
	if seg.Completion() != segment.Partial || seg.ActualDuration() != 30*time.Second || seg.Size() != 10 {
		t.Fatalf("state changed by second transition: %s %s %d", seg.Completion(), seg.ActualDuration(), seg.Size())
	}
}

func TestPlaybackRefImmutable(t *testing.T) {
	seg := segment.New("/tmp/a.mp4", time.Now(), time.Minute)
	if err := seg.AttachPlaybackRef("https://kinescope.io/abc"); err != nil {
		t.Fatalf("AttachPlaybackRef: %v", err)
	}
	if err := seg.AttachPlaybackRef("other"); !errors.Is(err, segment.ErrPlaybackRefSet) {
		t.Fatalf("expected ErrPlaybackRefSet, got %v", err)
	}
	if seg.PlaybackRef() != "https://kinescope.io/abc" {
		t.Fatalf("playback ref = %q", seg.PlaybackRef())
	}
}

func TestTitle(t *testing.T) {
	tests := map[string]string{
		"/rec/13.02.2026 14_00_05.mp4":     "13.02.2026 14:00:05",
		"/rec/13.02.2026 14_00_05 (1).mp4": "13.02.2026 14:00:05 (1)",
		"plain.mkv":                        "plain",
	}
	for path, want := range tests {
		if got := segment.Title(path); got != want {
			t.Errorf("Title(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestNamerAddsSuffixOnCollision(t *testing.T) {
	dir := t.TempDir()
	namer := segment.Namer{Dir: dir, Layout: "02.01.2006 15_04_05", Extension: ".mp4"}
	now := time.Date(2026, 2, 13, 14, 0, 5, 0, time.Local)

	first, err := namer.Next(now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if filepath.Base(first) != "13.02.2026 14_00_05.mp4" {
		t.Fatalf("unexpected name %q", first)
	}
	if err := os.WriteFile(first, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	second, err := namer.Next(now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if second == first {
		t.Fatal("expected a distinct path on collision")
	}
	if filepath.Base(second) != "13.02.2026 14_00_05 (1).mp4" {
		t.Fatalf("unexpected suffixed name %q", second)
	}
}

func TestScanOrdersOldestFirst(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	write := func(name string, size int, mod time.Time) {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
	}
	write("c.mp4", 3, base.Add(2*time.Minute))
	write("a.mp4", 1, base)
	write("b.mp4", 2, base.Add(time.Minute))
	write("tie.mp4", 4, base)
	write("notes.txt", 100, base)
	if err := os.Mkdir(filepath.Join(dir, "sub.mp4"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	files, err := segment.Scan(dir, ".mp4")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f.Path))
	}
	want := []string{"a.mp4", "tie.mp4", "b.mp4", "c.mp4"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
	if total := segment.TotalSize(files); total != 10 {
		t.Fatalf("total size = %d", total)
	}
}

func TestScanMissingDirectory(t *testing.T) {
	files, err := segment.Scan(filepath.Join(t.TempDir(), "absent"), ".mp4")
	if err != nil || len(files) != 0 {
		t.Fatalf("expected empty result, got %v %v", files, err)
	}
}
