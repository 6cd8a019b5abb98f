package netgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"camrecorder/internal/logging"
	"camrecorder/internal/services"
)

// Prober checks reachability of the upload service.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProbe issues a HEAD request; any HTTP response counts as reachable.
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// Probe performs one bounded reachability check.
func (p HTTPProbe) Probe(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "netgate", "probe", "build request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "netgate", "probe", p.URL, err)
		}
		return services.Wrap(services.ErrTransient, "netgate", "probe", p.URL, err)
	}
	resp.Body.Close()
	return nil
}

// DeviceChecker lists devices on the local network that are not known.
type DeviceChecker interface {
	UnknownDevices(ctx context.Context) ([]string, error)
}

// Option customizes a Gate.
type Option func(*Gate)

// WithDevices enables the busy-network check.
func WithDevices(checker DeviceChecker) Option {
	return func(g *Gate) {
		g.devices = checker
	}
}

// WithBusyHooks registers callbacks fired once when uploads pause because of
// unknown devices and once when they resume.
func WithBusyHooks(onBusy func(ctx context.Context, devices []string), onClear func(ctx context.Context)) Option {
	return func(g *Gate) {
		g.onBusy = onBusy
		g.onClear = onClear
	}
}

// WithLogger sets the gate logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Gate blocks the upload worker until the network is usable.
type Gate struct {
	probe    Prober
	interval time.Duration
	devices  DeviceChecker
	onBusy   func(ctx context.Context, devices []string)
	onClear  func(ctx context.Context)
	logger   *slog.Logger
}

// New constructs a gate polling probe every interval.
func New(probe Prober, interval time.Duration, opts ...Option) (*Gate, error) {
	if probe == nil {
		return nil, errors.New("netgate: prober required")
	}
	if interval <= 0 {
		return nil, errors.New("netgate: poll interval must be positive")
	}
	g := &Gate{probe: probe, interval: interval, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.NewComponentLogger(g.logger, "netgate")
	return g, nil
}

// AwaitReady returns nil once the probe succeeds and no unknown devices are
// present. It retries at the fixed interval without limit and returns the
// context error on shutdown.
func (g *Gate) AwaitReady(ctx context.Context) error {
	var (
		attempts int
		offline  bool
		busy     bool
		since    = time.Now()
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++

		err := g.probe.Probe(ctx)
		switch {
		case err != nil:
			if !offline {
				offline = true
				logging.WarnWithContext(g.logger, "upload service unreachable; waiting", "network_unreachable",
					logging.Error(err),
					logging.Duration("retry_interval", g.interval),
					logging.String(logging.FieldErrorHint, "check internet connectivity"),
					logging.String(logging.FieldImpact, "uploads paused until the network returns"),
				)
			} else {
				g.logger.Debug("network probe failed", logging.Int(logging.FieldAttempt, attempts), logging.Error(err))
			}
		default:
			unknown, devErr := g.unknownDevices(ctx)
			if devErr == nil && len(unknown) > 0 {
				if !busy {
					busy = true
					g.logger.Info("unknown devices on the network; pausing uploads",
						logging.Any("devices", unknown),
						logging.String(logging.FieldEventType, "network_busy"),
					)
					if g.onBusy != nil {
						g.onBusy(ctx, unknown)
					}
				}
				break
			}
			if busy && g.onClear != nil {
				g.onClear(ctx)
			}
			if offline || busy {
				g.logger.Info("network ready",
					logging.Duration("waited", time.Since(since).Round(time.Second)),
					logging.Int(logging.FieldAttempt, attempts),
					logging.String(logging.FieldEventType, "network_ready"),
				)
			}
			return nil
		}

		timer := time.NewTimer(g.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (g *Gate) unknownDevices(ctx context.Context) ([]string, error) {
	if g.devices == nil {
		return nil, nil
	}
	devices, err := g.devices.UnknownDevices(ctx)
	if err != nil {
		// An unreadable ARP table must not block uploads forever.
		g.logger.Debug("device check failed", logging.Error(err))
		return nil, fmt.Errorf("device check: %w", err)
	}
	return devices, nil
}
