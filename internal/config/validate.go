package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Notification providers.
const (
	ProviderNone     = "none"
	ProviderTelegram = "telegram"
	ProviderNtfy     = "ntfy"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCamera(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateNetwork(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateCamera() error {
	if c.Camera.RTSPURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("camera.rtsp_url is required. Set CAMRECORDER_RTSP_URL or edit %s (create with 'camrecorder config init')", defaultPath)
	}
	switch c.Camera.RTSPTransport {
	case "tcp", "udp", "http", "udp_multicast":
	default:
		return fmt.Errorf("camera.rtsp_transport: unsupported value %q", c.Camera.RTSPTransport)
	}
	return nil
}

func (c *Config) validateCapture() error {
	if err := ensurePositiveMap(map[string]int{
		"capture.segment_seconds":        c.Capture.SegmentSeconds,
		"capture.timeout_margin_seconds": c.Capture.TimeoutMargin,
		"capture.kill_grace_seconds":     c.Capture.KillGrace,
	}); err != nil {
		return err
	}
	if c.Capture.FailureBackoff < 0 {
		return errors.New("capture.failure_backoff_seconds must be zero or positive")
	}
	if c.Capture.MinSegmentBytes < 1 {
		return errors.New("capture.min_segment_bytes must be at least 1")
	}
	if strings.ContainsAny(c.Capture.FilenameLayout, `/\`) {
		return errors.New("capture.filename_layout must not contain path separators")
	}
	if time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Format(c.Capture.FilenameLayout) == c.Capture.FilenameLayout {
		return errors.New("capture.filename_layout must contain time fields")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.MaxUsageMB <= 0 {
		return errors.New("storage.max_usage_mb must be positive")
	}
	if c.Storage.MaxFiles < 0 {
		return errors.New("storage.max_files must be zero (unlimited) or positive")
	}
	if c.Storage.MinFreeGB < 0 {
		return errors.New("storage.min_free_gb must be zero or positive")
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.APIKey == "" {
		return errors.New("upload.api_key is required. Set KINESCOPE_API_KEY or edit the config file")
	}
	if err := validateURL("upload.upload_url", c.Upload.UploadURL); err != nil {
		return err
	}
	if err := validateURL("upload.api_url", c.Upload.APIURL); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"upload.request_timeout_seconds": c.Upload.RequestTimeout,
		"upload.max_attempts":            c.Upload.MaxAttempts,
		"upload.retry_initial_seconds":   c.Upload.RetryInitial,
		"upload.retry_max_seconds":       c.Upload.RetryMax,
	}); err != nil {
		return err
	}
	if c.Upload.RetryMax < c.Upload.RetryInitial {
		return errors.New("upload.retry_max_seconds must not be less than upload.retry_initial_seconds")
	}
	if c.Upload.PlayLinkAttempts < 0 {
		return errors.New("upload.play_link_attempts must be zero or positive")
	}
	return nil
}

func (c *Config) validateNetwork() error {
	if err := validateURL("network.probe_url", c.Network.ProbeURL); err != nil {
		return err
	}
	return ensurePositiveMap(map[string]int{
		"network.poll_interval_seconds": c.Network.PollInterval,
		"network.probe_timeout_seconds": c.Network.ProbeTimeout,
	})
}

func (c *Config) validateNotifications() error {
	n := c.Notifications
	switch n.Provider {
	case ProviderNone:
	case ProviderTelegram:
		if n.TelegramBotToken == "" || n.TelegramChatID == "" {
			return errors.New("notifications.telegram_bot_token and notifications.telegram_chat_id must be set for the telegram provider")
		}
	case ProviderNtfy:
		if n.NtfyTopic == "" {
			return errors.New("notifications.ntfy_topic must be set for the ntfy provider")
		}
	default:
		return fmt.Errorf("notifications.provider: unsupported value %q", n.Provider)
	}
	if n.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if n.RatePerMinute < 0 {
		return errors.New("notifications.rate_per_minute must be zero (unlimited) or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func validateURL(field, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", field)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
