package netgate_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"camrecorder/internal/netgate"
	"camrecorder/internal/services"
)

type probeFunc func(context.Context) error

func (f probeFunc) Probe(ctx context.Context) error { return f(ctx) }

type deviceList struct {
	mu      sync.Mutex
	answers [][]string
}

func (d *deviceList) UnknownDevices(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.answers) == 0 {
		return nil, nil
	}
	next := d.answers[0]
	d.answers = d.answers[1:]
	return next, nil
}

func TestHTTPProbeAcceptsAnyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	probe := netgate.HTTPProbe{URL: server.URL, Timeout: time.Second, Client: server.Client()}
	if err := probe.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
}

func TestHTTPProbeUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	probe := netgate.HTTPProbe{URL: url, Timeout: time.Second}
	err := probe.Probe(context.Background())
	if err == nil {
		t.Fatal("expected error for closed server")
	}
	if !services.Retryable(err) {
		t.Fatalf("expected retryable marker, got %v", err)
	}
}

func TestAwaitReadyRetriesUntilReachable(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var calls int
	probe := probeFunc(func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("offline")
		}
		return nil
	})
	gate, err := netgate.New(probe, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := gate.AwaitReady(context.Background()); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	if calls != 3 {
		t.Fatalf("probe calls = %d, want 3", calls)
	}
}

func TestAwaitReadyHonorsCancellation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	probe := probeFunc(func(context.Context) error { return errors.New("offline") })
	gate, err := netgate.New(probe, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	if err := gate.AwaitReady(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("cancellation did not interrupt the poll wait")
	}
}

func TestAwaitReadyPausesForUnknownDevices(t *testing.T) {
	devices := &deviceList{answers: [][]string{{"aa:bb:cc:dd:ee:ff"}, {"aa:bb:cc:dd:ee:ff"}, nil}}
	var busy, cleared int
	gate, err := netgate.New(
		probeFunc(func(context.Context) error { return nil }),
		5*time.Millisecond,
		netgate.WithDevices(devices),
		netgate.WithBusyHooks(
			func(_ context.Context, found []string) {
				busy++
				if len(found) != 1 {
					t.Errorf("devices = %v", found)
				}
			},
			func(context.Context) { cleared++ },
		),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := gate.AwaitReady(context.Background()); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	if busy != 1 || cleared != 1 {
		t.Fatalf("busy=%d cleared=%d, want one of each", busy, cleared)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := netgate.New(nil, time.Second); err == nil {
		t.Fatal("expected error without prober")
	}
	if _, err := netgate.New(probeFunc(func(context.Context) error { return nil }), 0); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestARPTableUnknownDevices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arp")
	table := `IP address       HW type     Flags       HW address            Mask     Device
192.168.1.1      0x1         0x2         11:22:33:44:55:66     *        eth0
192.168.1.20     0x1         0x2         AA:BB:CC:DD:EE:FF     *        eth0
192.168.1.21     0x1         0x0         00:00:00:00:00:00     *        eth0
192.168.1.22     0x1         0x0         01:02:03:04:05:06     *        eth0
192.168.1.23     0x1         0x2         aa:bb:cc:dd:ee:ff     *        wlan0
`
	if err := os.WriteFile(path, []byte(table), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	arp := netgate.NewARPTable(path, []string{"11:22:33:44:55:66 ", "192.168.1.23"})
	got, err := arp.UnknownDevices(context.Background())
	if err != nil {
		t.Fatalf("UnknownDevices: %v", err)
	}
	if len(got) != 1 || got[0] != "192.168.1.20" {
		t.Fatalf("unknown = %v", got)
	}
}

func TestARPTableDisabledWithoutKnownDevices(t *testing.T) {
	arp := netgate.NewARPTable(filepath.Join(t.TempDir(), "absent"), nil)
	got, err := arp.UnknownDevices(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("expected disabled check, got %v %v", got, err)
	}
}

func TestARPTableMissingFile(t *testing.T) {
	arp := netgate.NewARPTable(filepath.Join(t.TempDir(), "absent"), []string{"10.0.0.1"})
	if _, err := arp.UnknownDevices(context.Background()); err == nil {
		t.Fatal("expected error for missing table")
	}
}
