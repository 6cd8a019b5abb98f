package queue_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"camrecorder/internal/journal"
	"camrecorder/internal/notifications"
	"camrecorder/internal/queue"
	"camrecorder/internal/segment"
	"camrecorder/internal/services"
	"camrecorder/internal/services/kinescope"
	"camrecorder/internal/testsupport"
)

type fakeUploader struct {
	mu        sync.Mutex
	calls     []string
	failFirst int
	err       error
	delay     time.Duration
	block     chan struct{}
	started   chan string
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func (u *fakeUploader) Upload(ctx context.Context, path, title string) (kinescope.Video, error) {
	n := u.inFlight.Add(1)
	defer u.inFlight.Add(-1)
	for {
		peak := u.maxFlight.Load()
		if n <= peak || u.maxFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	u.mu.Lock()
	u.calls = append(u.calls, path)
	attempt := len(u.calls)
	u.mu.Unlock()

	if u.started != nil {
		u.started <- path
	}
	if u.block != nil {
		select {
		case <-u.block:
		case <-ctx.Done():
			return kinescope.Video{}, services.Wrap(services.ErrTransient, "fake", "upload", "cancelled", ctx.Err())
		}
	}
	if u.delay > 0 {
		time.Sleep(u.delay)
	}
	if attempt <= u.failFirst {
		err := u.err
		if err == nil {
			err = services.Wrap(services.ErrTransient, "fake", "upload", "status 503", nil)
		}
		return kinescope.Video{}, err
	}
	return kinescope.Video{ID: "vid-" + filepath.Base(path), PlayLink: "https://kinescope.test/" + filepath.Base(path)}, nil
}

func (u *fakeUploader) Calls() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.calls...)
}

type readyGate struct{ calls atomic.Int32 }

func (g *readyGate) AwaitReady(context.Context) error {
	g.calls.Add(1)
	return nil
}

type sentEvent struct {
	event   notifications.Event
	payload notifications.Payload
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{event: event, payload: payload})
	return nil
}

func (n *recordingNotifier) SendPlain(context.Context, string) error { return nil }

func (n *recordingNotifier) count(event notifications.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e.event == event {
			total++
		}
	}
	return total
}

type harness struct {
	queue    *queue.Queue
	worker   *queue.Worker
	uploader *fakeUploader
	gate     *readyGate
	notifier *recordingNotifier
	journal  *journal.Store
	dir      string
	cancel   context.CancelFunc
	done     chan error
}

func newHarness(t *testing.T, store *journal.Store, uploader *fakeUploader, policy queue.Policy) *harness {
	t.Helper()
	h := &harness{
		queue:    queue.New(),
		uploader: uploader,
		gate:     &readyGate{},
		notifier: &recordingNotifier{},
		journal:  store,
		dir:      t.TempDir(),
	}
	if policy.RetryInitial == 0 {
		policy.RetryInitial = time.Millisecond
		policy.RetryMax = 5 * time.Millisecond
	}
	h.worker = queue.NewWorker(h.queue, uploader, h.gate, policy,
		queue.WithJournal(store),
		queue.WithNotifier(h.notifier),
	)
	return h
}

func (h *harness) segment(t *testing.T, name string) *segment.Segment {
	t.Helper()
	path := filepath.Join(h.dir, name)
	testsupport.WriteFile(t, path, 2048)
	seg := segment.New(path, time.Now(), time.Second)
	if err := seg.Complete(segment.Completed, time.Second, 2048); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	return seg
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() {
		h.done <- h.worker.Run(ctx)
	}()
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWorkerUploadsInOrderOneAtATime(t *testing.T) {
	store := testsupport.MustOpenJournal(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	uploader := &fakeUploader{delay: 5 * time.Millisecond}
	h := newHarness(t, store, uploader, queue.Policy{MaxAttempts: 3})
	var want []string
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		seg := h.segment(t, name)
		want = append(want, seg.Path)
		if err := h.queue.Enqueue(seg); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	h.start()
	waitFor(t, "first drain", func() bool {
		st := h.worker.Snapshot()
		return st.Uploaded == 3 && st.State == queue.StateIdle
	})

	late := h.segment(t, "d.mp4")
	want = append(want, late.Path)
	if err := h.queue.Enqueue(late); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "late segment", func() bool { return h.worker.Snapshot().Uploaded == 4 })
	h.stop(t)

	calls := uploader.Calls()
	if len(calls) != len(want) {
		t.Fatalf("calls = %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("upload order = %v, want %v", calls, want)
		}
	}
	if peak := uploader.maxFlight.Load(); peak != 1 {
		t.Fatalf("max concurrent uploads = %d", peak)
	}
	if got := h.gate.calls.Load(); got != 2 {
		t.Fatalf("gate consulted %d times, want once per drain cycle (2)", got)
	}
	if got := h.notifier.count(notifications.EventUploadCompleted); got != 4 {
		t.Fatalf("success notifications = %d", got)
	}
	entry, err := store.Get(context.Background(), want[0])
	if err != nil {
		t.Fatalf("journal Get: %v", err)
	}
	if entry.Status != journal.StatusUploaded || entry.PlaybackRef != "https://kinescope.test/a.mp4" || entry.Attempts != 1 {
		t.Fatalf("journal entry = %+v", entry)
	}
}

func TestWorkerRetriesBelowLimitSucceeds(t *testing.T) {
	store := testsupport.MustOpenJournal(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	uploader := &fakeUploader{failFirst: 2}
	h := newHarness(t, store, uploader, queue.Policy{MaxAttempts: 3})
	seg := h.segment(t, "retry.mp4")
	if err := h.queue.Enqueue(seg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.start()
	waitFor(t, "upload", func() bool { return h.worker.Snapshot().Uploaded == 1 })
	h.stop(t)

	if seg.Upload() != segment.Uploaded {
		t.Fatalf("upload state = %s", seg.Upload())
	}
	if seg.PlaybackRef() == "" {
		t.Fatal("playback reference not attached")
	}
	if len(uploader.Calls()) != 3 {
		t.Fatalf("attempts = %d", len(uploader.Calls()))
	}
	if h.notifier.count(notifications.EventUploadFailed) != 0 || h.notifier.count(notifications.EventUploadCompleted) != 1 {
		t.Fatalf("unexpected notifications %+v", h.notifier.events)
	}
}

func TestWorkerExhaustedRetriesNotifiesOnce(t *testing.T) {
	store := testsupport.MustOpenJournal(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	uploader := &fakeUploader{failFirst: 10}
	h := newHarness(t, store, uploader, queue.Policy{MaxAttempts: 3})
	seg := h.segment(t, "doomed.mp4")
	if err := h.queue.Enqueue(seg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.start()
	waitFor(t, "failure", func() bool { return h.worker.Snapshot().Failed == 1 })
	h.stop(t)

	if len(uploader.Calls()) != 3 {
		t.Fatalf("attempts = %d, want 3", len(uploader.Calls()))
	}
	if seg.Upload() != segment.UploadFailed {
		t.Fatalf("upload state = %s", seg.Upload())
	}
	if got := h.notifier.count(notifications.EventUploadFailed); got != 1 {
		t.Fatalf("failure notifications = %d, want exactly 1", got)
	}
	entry, err := store.Get(context.Background(), seg.Path)
	if err != nil {
		t.Fatalf("journal Get: %v", err)
	}
	if entry.Status != journal.StatusFailed || entry.Attempts != 3 || entry.LastError == "" {
		t.Fatalf("journal entry = %+v", entry)
	}
}

func TestWorkerPermanentErrorStopsRetrying(t *testing.T) {
	store := testsupport.MustOpenJournal(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	uploader := &fakeUploader{failFirst: 10, err: services.Wrap(services.ErrConfiguration, "fake", "upload", "build request", nil)}
	h := newHarness(t, store, uploader, queue.Policy{MaxAttempts: 5})
	if err := h.queue.Enqueue(h.segment(t, "local.mp4")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.start()
	waitFor(t, "failure", func() bool { return h.worker.Snapshot().Failed == 1 })
	h.stop(t)

	if len(uploader.Calls()) != 1 {
		t.Fatalf("attempts = %d, want 1", len(uploader.Calls()))
	}
	if h.notifier.count(notifications.EventUploadFailed) != 1 {
		t.Fatal("expected one failure notification")
	}
}

func TestWorkerSkipsMissingFile(t *testing.T) {
	store := testsupport.MustOpenJournal(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	uploader := &fakeUploader{}
	h := newHarness(t, store, uploader, queue.Policy{MaxAttempts: 3})
	gone := segment.New(filepath.Join(h.dir, "gone.mp4"), time.Now(), time.Second)
	kept := h.segment(t, "kept.mp4")
	if err := h.queue.Enqueue(gone); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := h.queue.Enqueue(kept); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.start()
	waitFor(t, "upload", func() bool { return h.worker.Snapshot().Uploaded == 1 })
	h.stop(t)

	if calls := uploader.Calls(); len(calls) != 1 || calls[0] != kept.Path {
		t.Fatalf("calls = %v", calls)
	}
	if h.worker.Snapshot().Skipped != 1 {
		t.Fatalf("skipped = %d", h.worker.Snapshot().Skipped)
	}
	entry, err := store.Get(context.Background(), gone.Path)
	if err != nil {
		t.Fatalf("journal Get: %v", err)
	}
	if entry.Status != journal.StatusMissing {
		t.Fatalf("status = %s", entry.Status)
	}
}

func TestWorkerFinishesInFlightUploadOnShutdown(t *testing.T) {
	store := testsupport.MustOpenJournal(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	uploader := &fakeUploader{block: make(chan struct{}), started: make(chan string, 1)}
	h := newHarness(t, store, uploader, queue.Policy{MaxAttempts: 3})
	seg := h.segment(t, "busy.mp4")
	queued := h.segment(t, "queued.mp4")
	_ = h.queue.Enqueue(seg)
	_ = h.queue.Enqueue(queued)
	h.start()

	<-uploader.started
	if _, ok := h.queue.Reserved()[seg.Path]; !ok {
		t.Fatal("in-flight segment must be reserved")
	}
	h.cancel()
	time.Sleep(20 * time.Millisecond)
	close(uploader.block)
	h.stop(t)

	if seg.Upload() != segment.Uploaded {
		t.Fatalf("in-flight upload state = %s, want uploaded", seg.Upload())
	}
	if len(h.queue.Reserved()) != 0 {
		t.Fatal("reservation not released")
	}
	if left := h.queue.Drain(); len(left) != 1 || left[0].Path != queued.Path {
		t.Fatalf("expected queued segment left for next start, got %d", len(left))
	}
}

func TestWorkerAbandonsOnShutdownWhenConfigured(t *testing.T) {
	store := testsupport.MustOpenJournal(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	uploader := &fakeUploader{block: make(chan struct{}), started: make(chan string, 1)}
	h := newHarness(t, store, uploader, queue.Policy{MaxAttempts: 3, AbandonOnShutdown: true})
	seg := h.segment(t, "abandon.mp4")
	_ = h.queue.Enqueue(seg)
	h.start()

	<-uploader.started
	h.stop(t)

	if seg.Upload() != segment.UploadPending {
		t.Fatalf("upload state = %s, want pending", seg.Upload())
	}
	if h.notifier.count(notifications.EventUploadFailed) != 0 {
		t.Fatal("abandoned upload must not report failure")
	}
	entry, err := store.Get(context.Background(), seg.Path)
	if err != nil {
		t.Fatalf("journal Get: %v", err)
	}
	if entry.Status != journal.StatusPending {
		t.Fatalf("status = %s", entry.Status)
	}
}

func TestQueueCloseRejectsEnqueue(t *testing.T) {
	q := queue.New()
	q.Close()
	err := q.Enqueue(segment.New("/rec/a.mp4", time.Now(), time.Second))
	if !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestQueuePopReservesAtomically(t *testing.T) {
	q := queue.New()
	_ = q.Enqueue(segment.New("/rec/a.mp4", time.Now(), time.Second))
	_ = q.Enqueue(segment.New("/rec/b.mp4", time.Now(), time.Second))
	if q.Len() != 2 {
		t.Fatalf("len = %d", q.Len())
	}
	seg, ok := q.Pop()
	if !ok || seg.Path != "/rec/a.mp4" {
		t.Fatalf("pop = %v %v", seg, ok)
	}
	if _, reserved := q.Reserved()["/rec/a.mp4"]; !reserved {
		t.Fatal("popped path not reserved")
	}
	if pending := q.Pending(); len(pending) != 1 || pending[0] != "/rec/b.mp4" {
		t.Fatalf("pending = %v", pending)
	}
	q.Release("/rec/a.mp4")
	if len(q.Reserved()) != 0 {
		t.Fatal("release did not clear reservation")
	}
}

func TestWorkerRetriesRefusedCredentials(t *testing.T) {
	store := testsupport.MustOpenJournal(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"forbidden"}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":"v1"}}`))
	}))
	defer server.Close()

	client := kinescope.NewClient(kinescope.Options{
		UploadURL:      server.URL + "/v2/video",
		APIURL:         server.URL + "/v1",
		APIKey:         "key",
		RequestTimeout: 5 * time.Second,
	}, server.Client(), nil)

	h := newHarness(t, store, nil, queue.Policy{MaxAttempts: 3})
	h.worker = queue.NewWorker(h.queue, client, h.gate, queue.Policy{
		MaxAttempts:  3,
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
	}, queue.WithJournal(store), queue.WithNotifier(h.notifier))

	seg := h.segment(t, "creds.mp4")
	if err := h.queue.Enqueue(seg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.start()
	waitFor(t, "upload", func() bool { return h.worker.Snapshot().Uploaded == 1 })
	h.stop(t)
	server.CloseClientConnections()

	if got := requests.Load(); got != 2 {
		t.Fatalf("requests = %d, want 2", got)
	}
	entry, err := store.Get(context.Background(), seg.Path)
	if err != nil {
		t.Fatalf("journal Get: %v", err)
	}
	if entry.Status != journal.StatusUploaded || entry.Attempts != 2 {
		t.Fatalf("journal entry = %+v", entry)
	}
}

func TestWorkerKeepsRetryingThroughShutdown(t *testing.T) {
	store := testsupport.MustOpenJournal(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	uploader := &fakeUploader{failFirst: 1}
	h := newHarness(t, store, uploader, queue.Policy{
		MaxAttempts:  3,
		RetryInitial: 200 * time.Millisecond,
		RetryMax:     200 * time.Millisecond,
	})
	seg := h.segment(t, "slow.mp4")
	_ = h.queue.Enqueue(seg)
	h.start()

	waitFor(t, "first attempt", func() bool { return len(uploader.Calls()) == 1 })
	h.stop(t)

	if seg.Upload() != segment.Uploaded {
		t.Fatalf("upload state = %s, want uploaded", seg.Upload())
	}
	if len(uploader.Calls()) != 2 {
		t.Fatalf("attempts = %d, want 2", len(uploader.Calls()))
	}
}

func TestWorkerSettlesFinishedSegments(t *testing.T) {
	store := testsupport.MustOpenJournal(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	uploader := &fakeUploader{failFirst: 1, err: services.Wrap(services.ErrNotFound, "fake", "upload", "gone", nil)}
	h := newHarness(t, store, uploader, queue.Policy{MaxAttempts: 3})
	failed := h.segment(t, "failed.mp4")
	done := h.segment(t, "done.mp4")
	_ = h.queue.Enqueue(failed)
	_ = h.queue.Enqueue(done)
	h.start()
	waitFor(t, "both outcomes", func() bool {
		st := h.worker.Snapshot()
		return st.Failed == 1 && st.Uploaded == 1
	})
	h.stop(t)

	settled := h.queue.Settled()
	for _, path := range []string{failed.Path, done.Path} {
		if _, ok := settled[path]; !ok {
			t.Fatalf("%s not settled: %v", path, settled)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("segment must stay on disk without delete_after_upload: %v", err)
		}
	}
}

func TestWorkerDeletesAfterUploadWhenConfigured(t *testing.T) {
	store := testsupport.MustOpenJournal(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	uploader := &fakeUploader{}
	h := newHarness(t, store, uploader, queue.Policy{MaxAttempts: 3, DeleteAfterUpload: true})
	seg := h.segment(t, "gone.mp4")
	_ = h.queue.Enqueue(seg)
	h.start()
	waitFor(t, "upload", func() bool { return h.worker.Snapshot().Uploaded == 1 })
	h.stop(t)

	if _, err := os.Stat(seg.Path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("uploaded segment still on disk: %v", err)
	}
	entry, err := store.Get(context.Background(), seg.Path)
	if err != nil || entry.Status != journal.StatusUploaded {
		t.Fatalf("journal entry = %+v, %v", entry, err)
	}
}

func TestQueueRemoveIfUnreserved(t *testing.T) {
	q := queue.New()
	_ = q.Enqueue(segment.New("/rec/a.mp4", time.Now(), time.Second))
	q.Settle("/rec/b.mp4")
	q.Pop()

	var removed []string
	remove := func(path string) error {
		removed = append(removed, path)
		return nil
	}
	if ok, err := q.RemoveIfUnreserved("/rec/a.mp4", remove); ok || err != nil {
		t.Fatalf("reserved path removed: ok=%v err=%v", ok, err)
	}
	if ok, err := q.RemoveIfUnreserved("/rec/b.mp4", remove); !ok || err != nil {
		t.Fatalf("unreserved path kept: ok=%v err=%v", ok, err)
	}
	if len(removed) != 1 || removed[0] != "/rec/b.mp4" {
		t.Fatalf("removed = %v", removed)
	}
	if _, ok := q.Settled()["/rec/b.mp4"]; ok {
		t.Fatal("removed path must leave the settled set")
	}

	boom := errors.New("busy")
	if ok, err := q.RemoveIfUnreserved("/rec/c.mp4", func(string) error { return boom }); ok || !errors.Is(err, boom) {
		t.Fatalf("remove error not reported: ok=%v err=%v", ok, err)
	}
}
