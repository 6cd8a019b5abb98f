package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"camrecorder/internal/logging"
	"camrecorder/internal/media/ffprobe"
	"camrecorder/internal/procgroup"
	"camrecorder/internal/segment"
	"camrecorder/internal/services"
)

// Prober inspects a finished recording. ffprobe.Prober satisfies it.
type Prober interface {
	Inspect(ctx context.Context, path string) (ffprobe.Result, error)
}

// Options configures the capture tool invocation.
type Options struct {
	Binary              string
	Transport           string
	ExtraArgs           []string
	TimeoutMargin       time.Duration
	KillGrace           time.Duration
	MinBytes            int64
	InterruptOnShutdown bool
}

// Option customizes a Driver.
type Option func(*Driver)

// WithProber enables container inspection for classification and duration.
func WithProber(p Prober) Option {
	return func(d *Driver) {
		d.prober = p
	}
}

// WithLogger sets the driver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// Driver launches one external capture process per segment and classifies how
// it ended.
type Driver struct {
	opts   Options
	prober Prober
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a capture driver.
func New(opts Options, options ...Option) (*Driver, error) {
	opts.Binary = strings.TrimSpace(opts.Binary)
	if opts.Binary == "" {
		return nil, errors.New("capture binary required")
	}
	if opts.Transport == "" {
		opts.Transport = "tcp"
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = 10 * time.Second
	}
	if opts.MinBytes < 1 {
		opts.MinBytes = 1
	}
	d := &Driver{
		opts:   opts,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range options {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "capture")
	return d, nil
}

// Handle tracks one running capture process.
type Handle struct {
	Segment *segment.Segment

	ctx     context.Context
	cmd     *exec.Cmd
	waitCh  chan error
	started time.Time
	stderr  *tailBuffer
}

// Result is the terminal classification of a capture.
type Result struct {
	State          segment.CompletionState
	ActualDuration time.Duration
	Size           int64
	ExitCode       int
	Forced         bool
	Killed         bool
	Err            error
}

// Args builds the capture tool argument list.
func (d *Driver) Args(source string, target time.Duration, outputPath string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-y",
		"-rtsp_transport", d.opts.Transport,
		"-i", source,
		"-c", "copy",
		"-t", strconv.FormatFloat(target.Seconds(), 'f', 3, 64),
	}
	args = append(args, d.opts.ExtraArgs...)
	return append(args, "-f", "mp4", "-movflags", "+faststart", outputPath)
}

// Start launches the capture process writing to outputPath. The process runs
// in its own process group. ctx is consulted by Await only when the driver is
// configured to interrupt captures on shutdown.
func (d *Driver) Start(ctx context.Context, source string, target time.Duration, outputPath string) (*Handle, error) {
	if strings.TrimSpace(source) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "capture", "start", "empty stream source", nil)
	}
	if target <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "capture", "start", "target duration must be positive", nil)
	}

	stderr := newTailBuffer(4096)
	cmd := exec.Command(d.opts.Binary, d.Args(source, target, outputPath)...)
	cmd.Stdout = nil
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second
	procgroup.Set(cmd)

	started := d.now()
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "capture", "start", d.opts.Binary, err)
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	d.logger.Debug("capture started",
		logging.String(logging.FieldSegment, outputPath),
		logging.Int("pid", cmd.Process.Pid),
		logging.Duration("target", target),
	)

	return &Handle{
		Segment: segment.New(outputPath, started, target),
		ctx:     ctx,
		cmd:     cmd,
		waitCh:  waitCh,
		started: started,
		stderr:  stderr,
	}, nil
}

// Await blocks until the capture process exits or the wall-clock limit of
// target duration plus margin passes, in which case the process group is asked
// to finalize the file (SIGINT) and killed after the grace period. The returned
// state is terminal and has been recorded on the handle's segment. A failed
// capture leaves no file behind.
func (d *Driver) Await(h *Handle, margin time.Duration) Result {
	limit := h.Segment.TargetDuration + margin
	timer := time.NewTimer(limit)
	defer timer.Stop()

	var interrupt <-chan struct{}
	if d.opts.InterruptOnShutdown && h.ctx != nil {
		interrupt = h.ctx.Done()
	}

	var (
		waitErr error
		forced  bool
		killed  bool
	)
	select {
	case waitErr = <-h.waitCh:
	case <-timer.C:
		forced = true
		logging.WarnWithContext(d.logger, "capture exceeded wall-clock limit; stopping", "capture_timeout",
			logging.String(logging.FieldSegment, h.Segment.Path),
			logging.Duration("limit", limit),
			logging.String(logging.FieldErrorHint, "check that the camera delivers frames at the expected rate"),
			logging.String(logging.FieldImpact, "segment is kept as partial when playable"),
		)
		killed, waitErr = d.stop(h)
	case <-interrupt:
		forced = true
		d.logger.Info("capture interrupted for shutdown", logging.String(logging.FieldSegment, h.Segment.Path))
		killed, waitErr = d.stop(h)
	}

	res := d.classify(h, waitErr, forced)
	res.Killed = killed
	if err := h.Segment.Complete(res.State, res.ActualDuration, res.Size); err != nil {
		d.logger.Error("segment state transition rejected", logging.Error(err))
	}
	d.logResult(h, res)
	return res
}

func (d *Driver) stop(h *Handle) (bool, error) {
	outcome, err := procgroup.Terminate(h.cmd, h.waitCh, unix.SIGINT, d.opts.KillGrace)
	return outcome == procgroup.Killed, err
}

func (d *Driver) classify(h *Handle, waitErr error, forced bool) Result {
	elapsed := d.now().Sub(h.started)
	res := Result{Forced: forced, ExitCode: exitCode(waitErr)}

	info, statErr := os.Stat(h.Segment.Path)
	if statErr == nil {
		res.Size = info.Size()
	}

	var probe *ffprobe.Result
	if statErr == nil && res.Size >= d.opts.MinBytes && d.prober != nil {
		probeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		result, err := d.prober.Inspect(probeCtx, h.Segment.Path)
		cancel()
		if err != nil {
			d.logger.Debug("segment probe failed", logging.String(logging.FieldSegment, h.Segment.Path), logging.Error(err))
		} else {
			probe = &result
		}
	}

	res.State = Classify(waitErr == nil && !forced, res.Size, d.opts.MinBytes, d.prober != nil, probe)

	res.ActualDuration = elapsed
	if probe != nil && probe.Duration() > 0 {
		res.ActualDuration = probe.Duration()
	}

	if res.State == segment.Failed {
		res.ActualDuration = 0
		res.Err = d.failureError(h, waitErr, forced, res.Size, statErr)
		removeFailed(d.logger, h.Segment.Path)
		res.Size = 0
	}
	return res
}

// Classify maps how a capture ended to a terminal state. cleanExit is a zero
// exit without forced termination. When probing is enabled a non-clean exit is
// only kept if the probe shows a playable container.
func Classify(cleanExit bool, size, minBytes int64, probing bool, probe *ffprobe.Result) segment.CompletionState {
	if size < minBytes || size <= 0 {
		return segment.Failed
	}
	if cleanExit {
		return segment.Completed
	}
	if !probing {
		return segment.Partial
	}
	if probe != nil && probe.Playable() {
		return segment.Partial
	}
	return segment.Failed
}

func (d *Driver) failureError(h *Handle, waitErr error, forced bool, size int64, statErr error) error {
	detail := strings.TrimSpace(h.stderr.String())
	switch {
	case statErr != nil && errors.Is(statErr, fs.ErrNotExist):
		return services.Wrap(services.ErrExternalTool, "capture", "output", "no output file produced "+detail, waitErr)
	case size < d.opts.MinBytes:
		return services.Wrap(services.ErrExternalTool, "capture", "output", fmt.Sprintf("output too small (%d bytes) %s", size, detail), waitErr)
	case forced:
		return services.Wrap(services.ErrTimeout, "capture", "await", "forced stop left an unplayable file", waitErr)
	default:
		return services.Wrap(services.ErrExternalTool, "capture", "await", "unplayable output "+detail, waitErr)
	}
}

func removeFailed(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.WarnWithContext(logger, "failed to remove unusable capture output", "capture_cleanup_failed",
			logging.String(logging.FieldSegment, path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file stays on disk until evicted by the disk budget"),
		)
	}
}

func (d *Driver) logResult(h *Handle, res Result) {
	attrs := []logging.Attr{
		logging.String(logging.FieldSegment, h.Segment.Path),
		logging.String(logging.FieldState, string(res.State)),
		logging.Duration("actual", res.ActualDuration.Round(time.Millisecond)),
		logging.Int64("bytes", res.Size),
		logging.Int("exit_code", res.ExitCode),
		logging.Bool("forced", res.Forced),
	}
	switch res.State {
	case segment.Failed:
		attrs = append(attrs, logging.Error(res.Err), logging.String(logging.FieldErrorHint, services.Hint(res.Err)))
		logging.WarnWithContext(d.logger, "capture failed", "capture_failed", attrs...)
	default:
		d.logger.Info("segment captured", logging.Args(attrs...)...)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
