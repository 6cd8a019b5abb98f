package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCamera()
	c.normalizeCapture()
	c.normalizeUpload()
	c.normalizeNetwork()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RecordingsDir) == "" {
		c.Paths.RecordingsDir = defaultRecordingsDir
	}
	if c.Paths.RecordingsDir, err = expandPath(c.Paths.RecordingsDir); err != nil {
		return fmt.Errorf("paths.recordings_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeCamera() {
	c.Camera.RTSPURL = strings.TrimSpace(c.Camera.RTSPURL)
	if c.Camera.RTSPURL == "" {
		if value, ok := os.LookupEnv("CAMRECORDER_RTSP_URL"); ok {
			c.Camera.RTSPURL = strings.TrimSpace(value)
		}
	}
	c.Camera.RTSPTransport = strings.ToLower(strings.TrimSpace(c.Camera.RTSPTransport))
	if c.Camera.RTSPTransport == "" {
		c.Camera.RTSPTransport = defaultRTSPTransport
	}
}

func (c *Config) normalizeCapture() {
	c.Capture.Binary = strings.TrimSpace(c.Capture.Binary)
	if c.Capture.Binary == "" {
		c.Capture.Binary = defaultCaptureBinary
	}
	c.Capture.FFprobeBinary = strings.TrimSpace(c.Capture.FFprobeBinary)
	if c.Capture.FFprobeBinary == "" {
		c.Capture.FFprobeBinary = defaultFFprobeBinary
	}
	ext := strings.TrimSpace(c.Capture.Extension)
	if ext == "" {
		ext = defaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	c.Capture.Extension = strings.ToLower(ext)
	if strings.TrimSpace(c.Capture.FilenameLayout) == "" {
		c.Capture.FilenameLayout = defaultFilenameLayout
	}
}

func (c *Config) normalizeUpload() {
	c.Upload.APIKey = strings.TrimSpace(c.Upload.APIKey)
	if c.Upload.APIKey == "" {
		if value, ok := os.LookupEnv("KINESCOPE_API_KEY"); ok {
			c.Upload.APIKey = strings.TrimSpace(value)
		}
	}
	c.Upload.ParentID = strings.TrimSpace(c.Upload.ParentID)
	if c.Upload.ParentID == "" {
		if value, ok := os.LookupEnv("KINESCOPE_PARENT_ID"); ok {
			c.Upload.ParentID = strings.TrimSpace(value)
		}
	}
	c.Upload.UploadURL = strings.TrimSpace(c.Upload.UploadURL)
	if c.Upload.UploadURL == "" {
		c.Upload.UploadURL = defaultUploadURL
	}
	c.Upload.APIURL = strings.TrimRight(strings.TrimSpace(c.Upload.APIURL), "/")
	if c.Upload.APIURL == "" {
		c.Upload.APIURL = defaultAPIURL
	}
}

func (c *Config) normalizeNetwork() {
	c.Network.ProbeURL = strings.TrimSpace(c.Network.ProbeURL)
	if c.Network.ProbeURL == "" {
		c.Network.ProbeURL = defaultProbeURL
	}
	if strings.TrimSpace(c.Network.ARPTable) == "" {
		c.Network.ARPTable = defaultARPTable
	}
	devices := c.Network.KnownDevices[:0]
	for _, mac := range c.Network.KnownDevices {
		if mac = strings.ToLower(strings.TrimSpace(mac)); mac != "" {
			devices = append(devices, mac)
		}
	}
	c.Network.KnownDevices = devices
}

func (c *Config) normalizeNotifications() {
	n := &c.Notifications
	n.TelegramBotToken = strings.TrimSpace(n.TelegramBotToken)
	if n.TelegramBotToken == "" {
		if value, ok := os.LookupEnv("TELEGRAM_BOT_TOKEN"); ok {
			n.TelegramBotToken = strings.TrimSpace(value)
		}
	}
	n.TelegramChatID = strings.TrimSpace(n.TelegramChatID)
	if n.TelegramChatID == "" {
		if value, ok := os.LookupEnv("TELEGRAM_CHAT_ID"); ok {
			n.TelegramChatID = strings.TrimSpace(value)
		}
	}
	n.TelegramAPIURL = strings.TrimRight(strings.TrimSpace(n.TelegramAPIURL), "/")
	if n.TelegramAPIURL == "" {
		n.TelegramAPIURL = defaultTelegramAPIURL
	}
	n.NtfyTopic = strings.TrimSpace(n.NtfyTopic)
	n.Language = strings.ToLower(strings.TrimSpace(n.Language))
	if n.Language == "" {
		n.Language = defaultNotifyLanguage
	}

	n.Provider = strings.ToLower(strings.TrimSpace(n.Provider))
	if n.Provider == "" {
		switch {
		case n.TelegramBotToken != "" && n.TelegramChatID != "":
			n.Provider = ProviderTelegram
		case n.NtfyTopic != "":
			n.Provider = ProviderNtfy
		default:
			n.Provider = ProviderNone
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
