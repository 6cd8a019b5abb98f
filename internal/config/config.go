package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	RecordingsDir string `toml:"recordings_dir" yaml:"recordings_dir"`
	StateDir      string `toml:"state_dir" yaml:"state_dir"`
	LogDir        string `toml:"log_dir" yaml:"log_dir"`
	APIBind       string `toml:"api_bind" yaml:"api_bind"`
	APIToken      string `toml:"api_token" yaml:"api_token"`
}

// Camera describes the stream source.
type Camera struct {
	RTSPURL       string `toml:"rtsp_url" yaml:"rtsp_url"`
	RTSPTransport string `toml:"rtsp_transport" yaml:"rtsp_transport"`
}

// Capture contains settings for the external capture tool and segment shape.
type Capture struct {
	Binary              string   `toml:"binary" yaml:"binary"`
	FFprobeBinary       string   `toml:"ffprobe_binary" yaml:"ffprobe_binary"`
	ProbeEnabled        bool     `toml:"probe_enabled" yaml:"probe_enabled"`
	SegmentSeconds      int      `toml:"segment_seconds" yaml:"segment_seconds"`
	TimeoutMargin       int      `toml:"timeout_margin_seconds" yaml:"timeout_margin_seconds"`
	KillGrace           int      `toml:"kill_grace_seconds" yaml:"kill_grace_seconds"`
	MinSegmentBytes     int64    `toml:"min_segment_bytes" yaml:"min_segment_bytes"`
	Extension           string   `toml:"extension" yaml:"extension"`
	FilenameLayout      string   `toml:"filename_layout" yaml:"filename_layout"`
	ExtraArgs           []string `toml:"extra_args" yaml:"extra_args"`
	FailureBackoff      int      `toml:"failure_backoff_seconds" yaml:"failure_backoff_seconds"`
	InterruptOnShutdown bool     `toml:"interrupt_on_shutdown" yaml:"interrupt_on_shutdown"`
}

// Storage contains the local disk budget.
type Storage struct {
	MaxUsageMB int64   `toml:"max_usage_mb" yaml:"max_usage_mb"`
	MaxFiles   int     `toml:"max_files" yaml:"max_files"`
	MinFreeGB  float64 `toml:"min_free_gb" yaml:"min_free_gb"`
	// DeleteAfterUpload removes a segment as soon as its upload succeeds.
	DeleteAfterUpload bool `toml:"delete_after_upload" yaml:"delete_after_upload"`
}

// Upload contains the remote hosting service settings.
type Upload struct {
	APIKey            string `toml:"api_key" yaml:"api_key"`
	ParentID          string `toml:"parent_id" yaml:"parent_id"`
	UploadURL         string `toml:"upload_url" yaml:"upload_url"`
	APIURL            string `toml:"api_url" yaml:"api_url"`
	RequestTimeout    int    `toml:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	MaxAttempts       int    `toml:"max_attempts" yaml:"max_attempts"`
	RetryInitial      int    `toml:"retry_initial_seconds" yaml:"retry_initial_seconds"`
	RetryMax          int    `toml:"retry_max_seconds" yaml:"retry_max_seconds"`
	PlayLinkAttempts  int    `toml:"play_link_attempts" yaml:"play_link_attempts"`
	AbandonOnShutdown bool   `toml:"abandon_on_shutdown" yaml:"abandon_on_shutdown"`
}

// Network contains readiness gate settings.
type Network struct {
	ProbeURL     string   `toml:"probe_url" yaml:"probe_url"`
	PollInterval int      `toml:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	ProbeTimeout int      `toml:"probe_timeout_seconds" yaml:"probe_timeout_seconds"`
	KnownDevices []string `toml:"known_devices" yaml:"known_devices"`
	ARPTable     string   `toml:"arp_table" yaml:"arp_table"`
}

// Notifications contains operator notification settings.
type Notifications struct {
	Provider         string `toml:"provider" yaml:"provider"`
	TelegramBotToken string `toml:"telegram_bot_token" yaml:"telegram_bot_token"`
	TelegramChatID   string `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	TelegramAPIURL   string `toml:"telegram_api_url" yaml:"telegram_api_url"`
	NtfyTopic        string `toml:"ntfy_topic" yaml:"ntfy_topic"`
	Language         string `toml:"language" yaml:"language"`
	RequestTimeout   int    `toml:"request_timeout" yaml:"request_timeout"`
	RatePerMinute    int    `toml:"rate_per_minute" yaml:"rate_per_minute"`
	RecordingStarted bool   `toml:"recording_started" yaml:"recording_started"`
}

// Metrics toggles the Prometheus endpoint.
type Metrics struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format" yaml:"format"`
	Level         string `toml:"level" yaml:"level"`
	RetentionDays int    `toml:"retention_days" yaml:"retention_days"`
}

// Config encapsulates all configuration values for camrecorder.
//
// Configuration sections by subsystem:
//   - Paths: recordings, state and log directories plus the API bind address
//   - Camera: stream source
//   - Capture: capture tool invocation and segment duration
//   - Storage: local disk budget
//   - Upload: hosting service credentials and retry policy
//   - Network: readiness gate probe
//   - Notifications: Telegram or ntfy operator channel
//   - Metrics, Logging: observability
type Config struct {
	Paths         Paths         `toml:"paths" yaml:"paths"`
	Camera        Camera        `toml:"camera" yaml:"camera"`
	Capture       Capture       `toml:"capture" yaml:"capture"`
	Storage       Storage       `toml:"storage" yaml:"storage"`
	Upload        Upload        `toml:"upload" yaml:"upload"`
	Network       Network       `toml:"network" yaml:"network"`
	Notifications Notifications `toml:"notifications" yaml:"notifications"`
	Metrics       Metrics       `toml:"metrics" yaml:"metrics"`
	Logging       Logging       `toml:"logging" yaml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := decode(file, resolvedPath, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func decode(r io.Reader, path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		return toml.NewDecoder(r).DisallowUnknownFields().Decode(cfg)
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	candidates := []string{defaultPath}
	for _, name := range []string{"camrecorder.toml", "camrecorder.yaml", "config.yaml"} {
		projectPath, err := filepath.Abs(name)
		if err != nil {
			return "", false, err
		}
		candidates = append(candidates, projectPath)
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.RecordingsDir, c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JournalPath returns the location of the upload journal database.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "camrecorder.lock")
}

// PIDPath returns the daemon pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "camrecorder.pid")
}

// SegmentDuration is the target duration of one recording segment.
func (c *Config) SegmentDuration() time.Duration {
	return seconds(c.Capture.SegmentSeconds)
}

// CaptureTimeoutMargin is the slack added to the segment duration before the
// capture process is forcibly stopped.
func (c *Config) CaptureTimeoutMargin() time.Duration {
	return seconds(c.Capture.TimeoutMargin)
}

// CaptureKillGrace is how long a stopped capture process may take to exit
// before it is killed.
func (c *Config) CaptureKillGrace() time.Duration {
	return seconds(c.Capture.KillGrace)
}

// CaptureFailureBackoff is the pause after a failed capture.
func (c *Config) CaptureFailureBackoff() time.Duration {
	return seconds(c.Capture.FailureBackoff)
}

// UploadRequestTimeout bounds a single upload request.
func (c *Config) UploadRequestTimeout() time.Duration {
	return seconds(c.Upload.RequestTimeout)
}

// UploadRetryInitial is the first retry delay.
func (c *Config) UploadRetryInitial() time.Duration {
	return seconds(c.Upload.RetryInitial)
}

// UploadRetryMax caps the retry delay.
func (c *Config) UploadRetryMax() time.Duration {
	return seconds(c.Upload.RetryMax)
}

// NetworkPollInterval is the readiness probe interval.
func (c *Config) NetworkPollInterval() time.Duration {
	return seconds(c.Network.PollInterval)
}

// NetworkProbeTimeout bounds a single readiness probe.
func (c *Config) NetworkProbeTimeout() time.Duration {
	return seconds(c.Network.ProbeTimeout)
}

// StorageCeilingBytes converts the configured usage ceiling to bytes.
func (c *Config) StorageCeilingBytes() int64 {
	return c.Storage.MaxUsageMB * 1024 * 1024
}

// MinFreeBytes converts the configured free space floor to bytes.
func (c *Config) MinFreeBytes() uint64 {
	if c.Storage.MinFreeGB <= 0 {
		return 0
	}
	return uint64(c.Storage.MinFreeGB * 1024 * 1024 * 1024)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
// The file is replaced atomically so a concurrent reader never sees a partial write.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending config file: %w", err)
	}
	defer pending.Cleanup() //nolint:errcheck

	if _, err := pending.WriteString(sampleConfig); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace sample config: %w", err)
	}
	return nil
}
