package testsupport

import (
	"path/filepath"
	"testing"

	"camrecorder/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a valid config seeded with unique temp directories per
// test and short timings. Options are applied last.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.RecordingsDir = filepath.Join(base, "recordings")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Camera.RTSPURL = "rtsp://camera.test/stream"
	cfgVal.Capture.SegmentSeconds = 1
	cfgVal.Capture.TimeoutMargin = 1
	cfgVal.Capture.KillGrace = 1
	cfgVal.Capture.ProbeEnabled = false
	cfgVal.Capture.FailureBackoff = 0
	cfgVal.Upload.APIKey = "test-key"
	cfgVal.Upload.RetryInitial = 1
	cfgVal.Upload.RetryMax = 1
	cfgVal.Notifications.Provider = config.ProviderNone
	cfgVal.Metrics.Enabled = false

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithCaptureBinary points the capture tool at a stub script.
func WithCaptureBinary(path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Capture.Binary = path
	}
}

// WithUploadURL points the upload and metadata endpoints at a test server.
func WithUploadURL(base string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.UploadURL = base + "/v2/video"
		b.cfg.Upload.APIURL = base + "/v1"
		b.cfg.Network.ProbeURL = base
	}
}

// WithStorageMB sets the storage ceiling.
func WithStorageMB(mb int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.MaxUsageMB = mb
		b.cfg.Storage.MinFreeGB = 0
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.RecordingsDir)
}
