package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"camrecorder/internal/logging"
	"camrecorder/internal/notifications"
	"camrecorder/internal/testsupport"
	"camrecorder/internal/workflow"
)

func TestBuildWiresManager(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Network.KnownDevices = []string{"aa:bb:cc:dd:ee:ff"}
	store := testsupport.MustOpenJournal(t)

	mgr, err := Build(cfg, store, notifications.NewService(nil), logging.NewNop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if mgr.Queue() == nil {
		t.Fatal("expected shared upload queue")
	}
	if st := mgr.Status(); st.Phase != workflow.PhaseStopped || st.Running {
		t.Fatalf("fresh manager status = %+v", st)
	}
}

func TestBuildRejectsEmptyCaptureBinary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Capture.Binary = ""
	if _, err := Build(cfg, testsupport.MustOpenJournal(t), notifications.NewService(nil), logging.NewNop()); err == nil {
		t.Fatal("expected capture driver error")
	}
}

func TestPreflightFailsOnUnusableRecordingsDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if err := os.RemoveAll(cfg.Paths.RecordingsDir); err != nil {
		t.Fatalf("remove: %v", err)
	}
	testsupport.WriteFile(t, cfg.Paths.RecordingsDir, 1)

	err := runPreflight(context.Background(), cfg, logging.NewNop(), true)
	if err == nil || !strings.Contains(err.Error(), "Recordings directory") {
		t.Fatalf("expected recordings directory failure, got %v", err)
	}
}

func TestPreflightToleratesMissingBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Capture.Binary = "clearly-not-present-ffmpeg"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if err := runPreflight(context.Background(), cfg, logging.NewNop(), true); err != nil {
		t.Fatalf("missing binaries must not block startup: %v", err)
	}
}

func TestEnsureCurrentLogPointer(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "camrecorder-1.log")
	second := filepath.Join(dir, "camrecorder-2.log")
	testsupport.WriteFile(t, first, 1)
	testsupport.WriteFile(t, second, 1)

	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	target, err := os.Readlink(filepath.Join(dir, "camrecorder.log"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != second {
		t.Fatalf("pointer = %q, want %q", target, second)
	}
}
