package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/message"
	"golang.org/x/time/rate"

	"camrecorder/internal/config"
	"camrecorder/internal/logging"
)

const userAgent = "camrecorder/1.0"

// Service is the notification surface used by the workflow.
type Service interface {
	// Publish renders an event in the configured language and delivers it.
	Publish(ctx context.Context, event Event, payload Payload) error
	// SendPlain delivers text verbatim, without markup.
	SendPlain(ctx context.Context, text string) error
}

// Option customizes the service.
type Option func(*options)

type options struct {
	client *http.Client
	logger *slog.Logger
}

// WithHTTPClient overrides the HTTP client used by transports.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithLogger sets the logger used for suppressed events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// note is a rendered notification.
type note struct {
	title    string
	body     string
	tags     []string
	priority string
	plain    bool
}

type transport interface {
	send(ctx context.Context, n note) error
}

// NewService builds the configured notifier. When no provider is configured a
// noop implementation is returned.
func NewService(cfg *config.Config, opts ...Option) Service {
	o := options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if cfg == nil {
		return noopService{}
	}
	n := cfg.Notifications
	if o.client == nil {
		timeout := time.Duration(n.RequestTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		o.client = &http.Client{Timeout: timeout}
	}

	var tr transport
	switch n.Provider {
	case config.ProviderTelegram:
		tr = &telegramTransport{
			endpoint: fmt.Sprintf("%s/bot%s/sendMessage", n.TelegramAPIURL, n.TelegramBotToken),
			chatID:   n.TelegramChatID,
			client:   o.client,
		}
	case config.ProviderNtfy:
		tr = &ntfyTransport{endpoint: n.NtfyTopic, client: o.client}
	default:
		return noopService{}
	}

	perMinute := n.RatePerMinute
	if perMinute <= 0 {
		perMinute = 20
	}
	return &notifier{
		transport:        tr,
		printer:          newPrinter(n.Language),
		limiter:          rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		recordingStarted: n.RecordingStarted,
		logger:           logging.NewComponentLogger(o.logger, "notifications"),
	}
}

type notifier struct {
	transport        transport
	printer          *message.Printer
	limiter          *rate.Limiter
	recordingStarted bool
	logger           *slog.Logger
}

func (n *notifier) Publish(ctx context.Context, event Event, payload Payload) error {
	if event == EventRecordingStarted && !n.recordingStarted {
		return nil
	}
	if event.throttled() && !n.limiter.Allow() {
		n.logger.Debug("notification suppressed by rate limit", logging.String(logging.FieldEventType, string(event)))
		return nil
	}
	rendered, ok := render(n.printer, event, payload)
	if !ok {
		return nil
	}
	return n.transport.send(ctx, rendered)
}

func (n *notifier) SendPlain(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return n.transport.send(ctx, note{body: text, plain: true})
}

func render(p *message.Printer, event Event, payload Payload) (note, bool) {
	var n note
	switch event {
	case EventRecorderStarted:
		n = note{title: titleRecorder, body: p.Sprintf(msgRecorderStarted), tags: []string{"camrecorder", "started"}}
	case EventRecorderStopped:
		n = note{title: titleRecorder, body: p.Sprintf(msgRecorderStopped), tags: []string{"camrecorder", "stopped"}}
	case EventBacklogEnqueued:
		n = note{title: titleUpload, body: p.Sprintf(msgBacklogEnqueued, payloadInt(payload, "count")), tags: []string{"camrecorder", "upload", "backlog"}}
	case EventRecordingStarted:
		n = note{title: titleCapture, body: p.Sprintf(msgRecordingStarted, payloadString(payload, "title")), tags: []string{"camrecorder", "capture"}, priority: "low"}
	case EventCaptureFailed:
		n = note{title: titleCapture, body: p.Sprintf(msgCaptureFailed, payloadString(payload, "error")), tags: []string{"camrecorder", "capture", "error"}, priority: "high"}
	case EventUploadCompleted:
		body := p.Sprintf(msgUploadCompleted, payloadString(payload, "title"))
		if link := payloadString(payload, "link"); link != "" {
			body += "\n" + link
		}
		n = note{title: titleUpload, body: body, tags: []string{"camrecorder", "upload", "completed"}}
	case EventUploadFailed:
		n = note{
			title:    titleUpload,
			body:     p.Sprintf(msgUploadFailed, payloadInt(payload, "attempts"), payloadString(payload, "title"), payloadString(payload, "error")),
			tags:     []string{"camrecorder", "upload", "error"},
			priority: "high",
		}
	case EventLowDisk:
		free := float64(payloadInt(payload, "free_bytes")) / (1 << 30)
		n = note{title: titleStorage, body: p.Sprintf(msgLowDisk, free), tags: []string{"camrecorder", "disk", "warning"}, priority: "high"}
	case EventNetworkBusy:
		n = note{title: titleNetwork, body: p.Sprintf(msgNetworkBusy, payloadString(payload, "devices")), tags: []string{"camrecorder", "network", "paused"}}
	case EventNetworkClear:
		n = note{title: titleNetwork, body: p.Sprintf(msgNetworkClear), tags: []string{"camrecorder", "network", "resumed"}}
	case EventTest:
		n = note{title: titleTest, body: p.Sprintf(msgTest), tags: []string{"camrecorder", "test"}, priority: "low"}
	default:
		return note{}, false
	}
	n.title = "camrecorder - " + p.Sprintf(n.title)
	n.plain = event.plain()
	return n, true
}

func payloadString(payload Payload, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []string:
		return strings.Join(v, ", ")
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func payloadInt(payload Payload, key string) int64 {
	switch v := payload[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
func (noopService) SendPlain(context.Context, string) error        { return nil }
