package budget_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"camrecorder/internal/budget"
	"camrecorder/internal/queue"
	"camrecorder/internal/segment"
	"camrecorder/internal/testsupport"
)

const mb = 1024 * 1024

type fixture struct {
	dir   string
	paths []string
}

// seed creates sparse segment files, one minute apart, oldest first.
func seed(t *testing.T, sizes ...int64) fixture {
	t.Helper()
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	f := fixture{dir: dir}
	for i, size := range sizes {
		path := filepath.Join(dir, fmt.Sprintf("seg-%02d.mp4", i))
		testsupport.WriteSparse(t, path, size)
		testsupport.SetModTime(t, path, base.Add(time.Duration(i)*time.Minute))
		f.paths = append(f.paths, path)
	}
	return f
}

type fakeTracker struct {
	settled  map[string]struct{}
	reserved map[string]struct{}
}

func (f *fakeTracker) Settled() map[string]struct{} { return f.settled }

func (f *fakeTracker) RemoveIfUnreserved(path string, remove func(string) error) (bool, error) {
	if _, held := f.reserved[path]; held {
		return false, nil
	}
	if err := remove(path); err != nil {
		return false, err
	}
	delete(f.settled, path)
	return true, nil
}

func reservedTracker(paths ...string) *fakeTracker {
	tr := &fakeTracker{reserved: map[string]struct{}{}}
	for _, p := range paths {
		tr.reserved[p] = struct{}{}
	}
	return tr
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestEnsureDeletesOnlyOldestToFitCeiling(t *testing.T) {
	f := seed(t, 400*mb, 400*mb, 400*mb)
	manager, err := budget.New(f.dir, ".mp4", budget.Limits{CeilingBytes: 1000 * mb})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := manager.Ensure(context.Background(), nil)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0].Path != f.paths[0] {
		t.Fatalf("expected only the oldest removed, got %+v", res.Removed)
	}
	if exists(f.paths[0]) || !exists(f.paths[1]) || !exists(f.paths[2]) {
		t.Fatal("unexpected files on disk after eviction")
	}
	if res.UsageBefore != 1200*mb || res.UsageAfter != 800*mb {
		t.Fatalf("usage before/after = %d/%d", res.UsageBefore, res.UsageAfter)
	}
	if !res.Satisfied() {
		t.Fatal("expected limits satisfied")
	}
}

func TestEnsureNeverDeletesReserved(t *testing.T) {
	f := seed(t, 400*mb, 400*mb, 400*mb)
	manager, err := budget.New(f.dir, ".mp4", budget.Limits{CeilingBytes: 1000 * mb})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := manager.Ensure(context.Background(), reservedTracker(f.paths[0]))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !exists(f.paths[0]) {
		t.Fatal("reserved segment was deleted")
	}
	if len(res.Removed) != 1 || res.Removed[0].Path != f.paths[1] {
		t.Fatalf("expected next oldest removed, got %+v", res.Removed)
	}
}

func TestEnsureUnsatisfiedWhenEverythingReserved(t *testing.T) {
	f := seed(t, 600*mb, 600*mb)
	manager, err := budget.New(f.dir, ".mp4", budget.Limits{CeilingBytes: 1000 * mb})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := manager.Ensure(context.Background(), reservedTracker(f.paths[0], f.paths[1]))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(res.Removed) != 0 || res.Satisfied() {
		t.Fatalf("expected nothing removed and limits unsatisfied, got %+v", res)
	}
}

func TestEnsurePrefersSettledSegments(t *testing.T) {
	f := seed(t, 400*mb, 400*mb, 400*mb)
	manager, err := budget.New(f.dir, ".mp4", budget.Limits{CeilingBytes: 1000 * mb})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tracker := &fakeTracker{settled: map[string]struct{}{f.paths[2]: {}}}

	res, err := manager.Ensure(context.Background(), tracker)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0].Path != f.paths[2] {
		t.Fatalf("expected the settled segment removed, got %+v", res.Removed)
	}
	if !exists(f.paths[0]) || !exists(f.paths[1]) {
		t.Fatal("pending segments must survive while settled ones cover the overage")
	}
	if res.Forced != 0 || !res.Satisfied() {
		t.Fatalf("forced = %d satisfied = %v", res.Forced, res.Satisfied())
	}
}

func TestEnsureForcesPendingWhenSettledIsNotEnough(t *testing.T) {
	f := seed(t, 400*mb, 400*mb, 400*mb)
	manager, err := budget.New(f.dir, ".mp4", budget.Limits{CeilingBytes: 500 * mb})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tracker := &fakeTracker{settled: map[string]struct{}{f.paths[2]: {}}}

	res, err := manager.Ensure(context.Background(), tracker)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(res.Removed) != 2 || res.Removed[0].Path != f.paths[2] || res.Removed[1].Path != f.paths[0] {
		t.Fatalf("expected settled then oldest pending removed, got %+v", res.Removed)
	}
	if res.Forced != 1 {
		t.Fatalf("forced = %d, want 1", res.Forced)
	}
	if !exists(f.paths[1]) || !res.Satisfied() {
		t.Fatal("expected the middle segment kept and limits satisfied")
	}
}

func TestEnsureSkipsSegmentTakenForUploadMidPass(t *testing.T) {
	f := seed(t, 800*1024, 800*1024)
	q := queue.New()
	for _, path := range f.paths {
		if err := q.Enqueue(segment.Restore(path, time.Now(), 800*1024)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	popped := false
	freeFn := func(context.Context, string) (uint64, error) {
		if !popped {
			popped = true
			q.Pop()
		}
		return 1 << 40, nil
	}
	manager, err := budget.New(f.dir, ".mp4",
		budget.Limits{CeilingBytes: mb, MinFreeBytes: 1},
		budget.WithFreeSpace(freeFn))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := manager.Ensure(context.Background(), q)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !exists(f.paths[0]) {
		t.Fatal("segment taken by the uploader was deleted")
	}
	if exists(f.paths[1]) || len(res.Removed) != 1 || !res.Satisfied() {
		t.Fatalf("expected the newer segment evicted instead, got %+v", res)
	}
}

func TestEnsureContinuesAfterDeleteFailure(t *testing.T) {
	f := seed(t, 400*mb, 400*mb, 400*mb, 400*mb)
	locked := f.paths[0]
	remove := func(path string) error {
		if path == locked {
			return errors.New("resource busy")
		}
		return os.Remove(path)
	}
	manager, err := budget.New(f.dir, ".mp4", budget.Limits{CeilingBytes: 1000 * mb}, budget.WithRemove(remove))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := manager.Ensure(context.Background(), nil)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0].Path != locked {
		t.Fatalf("expected one recorded failure, got %+v", res.Errors)
	}
	if len(res.Removed) != 2 || res.Removed[0].Path != f.paths[1] || res.Removed[1].Path != f.paths[2] {
		t.Fatalf("unexpected removals %+v", res.Removed)
	}
	if !exists(locked) || !exists(f.paths[3]) {
		t.Fatal("locked or newest file missing")
	}
	if !res.Satisfied() {
		t.Fatal("expected limits satisfied after skipping the locked file")
	}
}

func TestEnsureNoopUnderBudget(t *testing.T) {
	f := seed(t, 100*mb, 100*mb)
	manager, err := budget.New(f.dir, ".mp4", budget.Limits{CeilingBytes: 1000 * mb})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := manager.Ensure(context.Background(), nil)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(res.Removed) != 0 || !res.Satisfied() {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestEnsureMaxFiles(t *testing.T) {
	f := seed(t, mb, mb, mb, mb)
	manager, err := budget.New(f.dir, ".mp4", budget.Limits{CeilingBytes: 1000 * mb, MaxFiles: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := manager.Ensure(context.Background(), nil)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(res.Removed) != 2 || res.FilesAfter != 2 {
		t.Fatalf("expected two oldest removed, got %+v", res)
	}
	if exists(f.paths[0]) || exists(f.paths[1]) {
		t.Fatal("oldest files should be gone")
	}
}

func TestEnsureMinFreeSpace(t *testing.T) {
	f := seed(t, 100*mb, 100*mb, 100*mb)
	free := uint64(50 * mb)
	freeFn := func(context.Context, string) (uint64, error) {
		current := free
		for _, p := range f.paths {
			if !exists(p) {
				current += 100 * mb
			}
		}
		return current, nil
	}
	manager, err := budget.New(f.dir, ".mp4",
		budget.Limits{CeilingBytes: 1000 * mb, MinFreeBytes: 200 * mb},
		budget.WithFreeSpace(freeFn))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := manager.Ensure(context.Background(), nil)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(res.Removed) != 2 {
		t.Fatalf("expected two removals to free 200MB, got %d", len(res.Removed))
	}
	if res.FreeBytes != 250*mb || !res.Satisfied() {
		t.Fatalf("free = %d satisfied = %v", res.FreeBytes, res.Satisfied())
	}
}

func TestEnsureIgnoresOtherFiles(t *testing.T) {
	f := seed(t, 900*mb)
	other := filepath.Join(f.dir, "notes.txt")
	testsupport.WriteSparse(t, other, 900*mb)
	manager, err := budget.New(f.dir, ".mp4", budget.Limits{CeilingBytes: 1000 * mb})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := manager.Ensure(context.Background(), nil)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(res.Removed) != 0 || !exists(other) {
		t.Fatalf("non-segment files must not count or be deleted: %+v", res)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := budget.New("", ".mp4", budget.Limits{CeilingBytes: 1}); err == nil {
		t.Fatal("expected error for empty dir")
	}
	if _, err := budget.New(t.TempDir(), ".mp4", budget.Limits{}); err == nil {
		t.Fatal("expected error for zero ceiling")
	}
}
