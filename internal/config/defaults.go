package config

const (
	defaultConfigPath           = "~/.config/camrecorder/config.toml"
	defaultRecordingsDir        = "~/.local/share/camrecorder/recordings"
	defaultStateDir             = "~/.local/share/camrecorder/state"
	defaultLogDir               = "~/.local/share/camrecorder/logs"
	defaultAPIBind              = "127.0.0.1:7491"
	defaultRTSPTransport        = "tcp"
	defaultCaptureBinary        = "ffmpeg"
	defaultFFprobeBinary        = "ffprobe"
	defaultSegmentSeconds       = 3600
	defaultTimeoutMarginSeconds = 60
	defaultKillGraceSeconds     = 10
	defaultMinSegmentBytes      = 1024
	defaultExtension            = ".mp4"
	defaultFilenameLayout       = "02.01.2006 15_04_05"
	defaultFailureBackoff       = 30
	defaultMaxUsageMB           = 20 * 1024
	defaultMinFreeGB            = 2.0
	defaultUploadURL            = "https://uploader.kinescope.io/v2/video"
	defaultAPIURL               = "https://api.kinescope.io/v1"
	defaultUploadTimeout        = 7200
	defaultMaxAttempts          = 3
	defaultRetryInitial         = 10
	defaultRetryMax             = 300
	defaultPlayLinkAttempts     = 3
	defaultProbeURL             = "https://uploader.kinescope.io"
	defaultPollInterval         = 60
	defaultProbeTimeout         = 10
	defaultARPTable             = "/proc/net/arp"
	defaultTelegramAPIURL       = "https://api.telegram.org"
	defaultNotifyLanguage       = "en"
	defaultNotifyTimeout        = 10
	defaultNotifyRatePerMinute  = 20
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RecordingsDir: defaultRecordingsDir,
			StateDir:      defaultStateDir,
			LogDir:        defaultLogDir,
			APIBind:       defaultAPIBind,
		},
		Camera: Camera{
			RTSPTransport: defaultRTSPTransport,
		},
		Capture: Capture{
			Binary:          defaultCaptureBinary,
			FFprobeBinary:   defaultFFprobeBinary,
			ProbeEnabled:    true,
			SegmentSeconds:  defaultSegmentSeconds,
			TimeoutMargin:   defaultTimeoutMarginSeconds,
			KillGrace:       defaultKillGraceSeconds,
			MinSegmentBytes: defaultMinSegmentBytes,
			Extension:       defaultExtension,
			FilenameLayout:  defaultFilenameLayout,
			FailureBackoff:  defaultFailureBackoff,
		},
		Storage: Storage{
			MaxUsageMB: defaultMaxUsageMB,
			MinFreeGB:  defaultMinFreeGB,
		},
		Upload: Upload{
			UploadURL:        defaultUploadURL,
			APIURL:           defaultAPIURL,
			RequestTimeout:   defaultUploadTimeout,
			MaxAttempts:      defaultMaxAttempts,
			RetryInitial:     defaultRetryInitial,
			RetryMax:         defaultRetryMax,
			PlayLinkAttempts: defaultPlayLinkAttempts,
		},
		Network: Network{
			ProbeURL:     defaultProbeURL,
			PollInterval: defaultPollInterval,
			ProbeTimeout: defaultProbeTimeout,
			ARPTable:     defaultARPTable,
		},
		Notifications: Notifications{
			TelegramAPIURL: defaultTelegramAPIURL,
			Language:       defaultNotifyLanguage,
			RequestTimeout: defaultNotifyTimeout,
			RatePerMinute:  defaultNotifyRatePerMinute,
		},
		Metrics: Metrics{
			Enabled: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
