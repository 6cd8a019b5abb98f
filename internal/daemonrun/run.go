package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"camrecorder/internal/budget"
	"camrecorder/internal/capture"
	"camrecorder/internal/config"
	"camrecorder/internal/daemon"
	"camrecorder/internal/journal"
	"camrecorder/internal/logging"
	"camrecorder/internal/media/ffprobe"
	"camrecorder/internal/netgate"
	"camrecorder/internal/notifications"
	"camrecorder/internal/preflight"
	"camrecorder/internal/queue"
	"camrecorder/internal/services/kinescope"
	"camrecorder/internal/workflow"
)

// journalRetention bounds how long evicted and missing rows are kept.
const journalRetention = 90 * 24 * time.Hour

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
	// SkipNetworkChecks omits the upload service checks at startup.
	SkipNetworkChecks bool
}

// Run starts the recorder and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if lvl := strings.TrimSpace(opts.LogLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sessionID := uuid.NewString()
	runID := time.Now().UTC().Format("20060102T150405Z")
	logFile := fmt.Sprintf("camrecorder-%s.log", runID)
	logger, err := logging.NewFromConfig(cfg, logFile, sessionID)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logPath := filepath.Join(cfg.Paths.LogDir, logFile)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update camrecorder.log link: %v\n", err)
	}
	logging.PruneLogs(logger, cfg.Paths.LogDir, "camrecorder-*.log", cfg.Logging.RetentionDays, logPath)

	if err := runPreflight(signalCtx, cfg, logger, opts.SkipNetworkChecks); err != nil {
		return err
	}

	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		logger.Error("open upload journal", logging.Error(err))
		return err
	}
	defer store.Close()
	if n, err := store.Prune(signalCtx, time.Now().Add(-journalRetention)); err != nil {
		logger.Warn("journal prune failed", logging.Error(err))
	} else if n > 0 {
		logger.Info("journal pruned", logging.Int64("removed", n))
	}

	notifier := notifications.NewService(cfg, notifications.WithLogger(logger))
	mgr, err := Build(cfg, store, notifier, logger)
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg, mgr, store, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		return err
	}
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		d.Stop()
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logger.Info("camrecorder running",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String("source", logging.RedactURL(cfg.Camera.RTSPURL)),
		logging.String("recordings_dir", cfg.Paths.RecordingsDir),
		logging.Duration("segment", cfg.SegmentDuration()),
		logging.String("api", d.Addr()),
	)

	waitErr := make(chan error, 1)
	go func() { waitErr <- d.Wait() }()

	select {
	case <-signalCtx.Done():
		logger.Info("camrecorder shutting down")
		d.Stop()
		return nil
	case err := <-waitErr:
		d.Stop()
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

// Build wires the recorder components into a workflow manager.
func Build(cfg *config.Config, store *journal.Store, notifier notifications.Service, logger *slog.Logger) (*workflow.Manager, error) {
	var driverOpts []capture.Option
	driverOpts = append(driverOpts, capture.WithLogger(logger))
	if cfg.Capture.ProbeEnabled {
		driverOpts = append(driverOpts, capture.WithProber(ffprobe.Prober{Binary: cfg.Capture.FFprobeBinary, Timeout: 30 * time.Second}))
	}
	driver, err := capture.New(capture.Options{
		Binary:              cfg.Capture.Binary,
		Transport:           cfg.Camera.RTSPTransport,
		ExtraArgs:           cfg.Capture.ExtraArgs,
		TimeoutMargin:       cfg.CaptureTimeoutMargin(),
		KillGrace:           cfg.CaptureKillGrace(),
		MinBytes:            cfg.Capture.MinSegmentBytes,
		InterruptOnShutdown: cfg.Capture.InterruptOnShutdown,
	}, driverOpts...)
	if err != nil {
		return nil, fmt.Errorf("capture driver: %w", err)
	}

	budgetMgr, err := budget.New(cfg.Paths.RecordingsDir, cfg.Capture.Extension, budget.Limits{
		CeilingBytes: cfg.StorageCeilingBytes(),
		MaxFiles:     cfg.Storage.MaxFiles,
		MinFreeBytes: cfg.MinFreeBytes(),
	}, budget.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	gate, err := newGate(cfg, notifier, logger)
	if err != nil {
		return nil, err
	}

	q := queue.New()
	worker := queue.NewWorker(q, kinescope.NewConfiguredClient(cfg, logger), gate, queue.Policy{
		MaxAttempts:       cfg.Upload.MaxAttempts,
		RetryInitial:      cfg.UploadRetryInitial(),
		RetryMax:          cfg.UploadRetryMax(),
		AbandonOnShutdown: cfg.Upload.AbandonOnShutdown,
		DeleteAfterUpload: cfg.Storage.DeleteAfterUpload,
	},
		queue.WithJournal(store),
		queue.WithNotifier(notifier),
		queue.WithLogger(logger),
	)

	return workflow.NewManager(cfg, workflow.Deps{
		Recorder: driver,
		Budget:   budgetMgr,
		Queue:    q,
		Uploads:  worker,
		Journal:  store,
		Notifier: notifier,
		Logger:   logger,
	}), nil
}

func newGate(cfg *config.Config, notifier notifications.Service, logger *slog.Logger) (*netgate.Gate, error) {
	probe := netgate.HTTPProbe{URL: cfg.Network.ProbeURL, Timeout: cfg.NetworkProbeTimeout()}
	opts := []netgate.Option{netgate.WithLogger(logger)}
	if len(cfg.Network.KnownDevices) > 0 {
		opts = append(opts,
			netgate.WithDevices(netgate.NewARPTable(cfg.Network.ARPTable, cfg.Network.KnownDevices)),
			netgate.WithBusyHooks(
				func(ctx context.Context, devices []string) {
					publish(ctx, notifier, logger, notifications.EventNetworkBusy, notifications.Payload{"devices": strings.Join(devices, ", ")})
				},
				func(ctx context.Context) {
					publish(ctx, notifier, logger, notifications.EventNetworkClear, nil)
				},
			),
		)
	}
	return netgate.New(probe, cfg.NetworkPollInterval(), opts...)
}

func publish(ctx context.Context, notifier notifications.Service, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if err := notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logger.Warn("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}

func runPreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger, offline bool) error {
	results := preflight.RunAll(ctx, cfg, offline)
	var fatal []string
	for _, r := range results {
		attrs := []logging.Attr{
			logging.String("check", r.Name),
			logging.Bool("passed", r.Passed),
			logging.String("detail", r.Detail),
		}
		if r.Passed || r.Optional {
			logger.Info("preflight", logging.Args(attrs...)...)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed", attrs...)
		if strings.HasSuffix(r.Name, "directory") {
			fatal = append(fatal, r.Name+": "+r.Detail)
		}
	}
	if len(fatal) > 0 {
		return fmt.Errorf("preflight: %s", strings.Join(fatal, "; "))
	}
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "camrecorder.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
