package kinescope

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"camrecorder/internal/config"
	"camrecorder/internal/logging"
	"camrecorder/internal/services"
)

// HTTPDoer describes the HTTP client used by the uploader.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Video is the hosting service's record of an uploaded segment.
type Video struct {
	ID       string
	PlayLink string
}

// Ref is the playback reference stored on the segment: the play link when the
// service returned one, otherwise the video id.
func (v Video) Ref() string {
	if v.PlayLink != "" {
		return v.PlayLink
	}
	return v.ID
}

// Options configures a Client.
type Options struct {
	UploadURL        string
	APIURL           string
	APIKey           string
	ParentID         string
	RequestTimeout   time.Duration
	PlayLinkAttempts int
	PlayLinkDelay    time.Duration
}

// Client uploads recordings with the single-request upload API.
type Client struct {
	opts   Options
	client HTTPDoer
	logger *slog.Logger
}

// NewConfiguredClient builds a client from the upload configuration.
func NewConfiguredClient(cfg *config.Config, logger *slog.Logger) *Client {
	return NewClient(Options{
		UploadURL:        cfg.Upload.UploadURL,
		APIURL:           cfg.Upload.APIURL,
		APIKey:           cfg.Upload.APIKey,
		ParentID:         cfg.Upload.ParentID,
		RequestTimeout:   cfg.UploadRequestTimeout(),
		PlayLinkAttempts: cfg.Upload.PlayLinkAttempts,
		PlayLinkDelay:    5 * time.Second,
	}, http.DefaultClient, logger)
}

// NewClient constructs a client with an explicit HTTP doer.
func NewClient(opts Options, client HTTPDoer, logger *slog.Logger) *Client {
	opts.UploadURL = strings.TrimSpace(opts.UploadURL)
	opts.APIURL = strings.TrimRight(strings.TrimSpace(opts.APIURL), "/")
	opts.APIKey = strings.TrimSpace(opts.APIKey)
	opts.ParentID = strings.TrimSpace(opts.ParentID)
	if opts.PlayLinkAttempts < 0 {
		opts.PlayLinkAttempts = 0
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{opts: opts, client: client, logger: logging.NewComponentLogger(logger, "kinescope")}
}

type uploadResponse struct {
	ID   string `json:"id"`
	Data struct {
		ID       string `json:"id"`
		PlayLink string `json:"play_link"`
	} `json:"data"`
}

// Upload streams the file at path to the hosting service. A 2xx response with
// a video id is success. The play link is fetched afterwards on a best-effort
// basis.
func (c *Client) Upload(ctx context.Context, path, title string) (Video, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Video{}, services.Wrap(services.ErrNotFound, "kinescope", "upload", path, err)
		}
		return Video{}, services.Wrap(services.ErrTransient, "kinescope", "upload", "open segment", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return Video{}, services.Wrap(services.ErrTransient, "kinescope", "upload", "stat segment", err)
	}

	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.UploadURL, file)
	if err != nil {
		return Video{}, services.Wrap(services.ErrConfiguration, "kinescope", "upload", "build request", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("X-Parent-ID", c.opts.ParentID)
	req.Header.Set("X-Video-Title", title)
	req.Header.Set("X-File-Name", url.PathEscape(filepath.Base(path)))
	req.Header.Set("Content-Type", "video/mp4")

	started := time.Now()
	c.logger.Info("upload started",
		logging.String(logging.FieldSegment, path),
		logging.String("title", title),
		logging.Int64("bytes", info.Size()),
	)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Video{}, services.Wrap(services.ErrTimeout, "kinescope", "upload", "request timed out", err)
		}
		return Video{}, services.Wrap(services.ErrTransient, "kinescope", "upload", "send request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Video{}, services.Wrap(services.ErrTransient, "kinescope", "upload", "read response", err)
	}
	if err := statusError("upload", resp.StatusCode, body); err != nil {
		return Video{}, err
	}

	var decoded uploadResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Video{}, services.Wrap(services.ErrMalformedResponse, "kinescope", "upload", "decode response", err)
	}
	video := Video{ID: strings.TrimSpace(decoded.Data.ID), PlayLink: strings.TrimSpace(decoded.Data.PlayLink)}
	if video.ID == "" {
		video.ID = strings.TrimSpace(decoded.ID)
	}
	if video.ID == "" {
		return Video{}, services.Wrap(services.ErrMalformedResponse, "kinescope", "upload", "response carries no video id", nil)
	}

	c.logger.Info("upload succeeded",
		logging.String(logging.FieldSegment, path),
		logging.String("video_id", video.ID),
		logging.Duration("elapsed", time.Since(started).Round(time.Millisecond)),
	)

	if video.PlayLink == "" {
		video.PlayLink = c.PlayLink(ctx, video.ID)
	}
	return video, nil
}

type videoResponse struct {
	Data struct {
		PlayLink string `json:"play_link"`
	} `json:"data"`
}

// PlayLink looks up the public link of an uploaded video. The video may not be
// visible right after upload, so the lookup is retried a few times. An empty
// string means no link could be obtained.
func (c *Client) PlayLink(ctx context.Context, id string) string {
	if c.opts.PlayLinkAttempts == 0 || c.opts.APIURL == "" || id == "" {
		return ""
	}
	lookup := func() (string, error) {
		return c.fetchPlayLink(ctx, id)
	}
	link, err := backoff.Retry(ctx, lookup,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.opts.PlayLinkDelay)),
		backoff.WithMaxTries(uint(c.opts.PlayLinkAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("play link not available yet", logging.String("video_id", id), logging.Error(err), logging.Duration("retry_in", next))
		}),
	)
	if err != nil {
		logging.WarnWithContext(c.logger, "could not get play link", "play_link_unavailable",
			logging.String("video_id", id),
			logging.Int(logging.FieldAttempt, c.opts.PlayLinkAttempts),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the video id is used as playback reference"),
		)
		return ""
	}
	return link
}

func (c *Client) fetchPlayLink(ctx context.Context, id string) (string, error) {
	endpoint := fmt.Sprintf("%s/videos/%s", c.opts.APIURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", backoff.Permanent(services.Wrap(services.ErrConfiguration, "kinescope", "video", "build request", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "kinescope", "video", "send request", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "kinescope", "video", "read response", err)
	}
	if err := statusError("video", resp.StatusCode, body); err != nil {
		return "", err
	}
	var decoded videoResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", services.Wrap(services.ErrMalformedResponse, "kinescope", "video", "decode response", err)
	}
	link := strings.TrimSpace(decoded.Data.PlayLink)
	if link == "" {
		return "", services.Wrap(services.ErrMalformedResponse, "kinescope", "video", "no play link", nil)
	}
	return link, nil
}

// statusError classifies non-2xx responses. 408, 429 and 5xx are transient;
// every other status, credential refusals included, is a rejection. Both stay
// retryable so a revoked and restored key does not lose segments.
func statusError(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	detail := fmt.Sprintf("status %d: %s", status, snippet(body))
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return services.Wrap(services.ErrTransient, "kinescope", op, detail, nil)
	default:
		return services.Wrap(services.ErrRejected, "kinescope", op, detail, nil)
	}
}

const snippetBytes = 300

// snippet shortens a response body for logs and notifications without
// splitting a UTF-8 sequence.
func snippet(body []byte) string {
	text := strings.ToValidUTF8(strings.TrimSpace(string(body)), "\uFFFD")
	if len(text) <= snippetBytes {
		return text
	}
	cut := 0
	for i := range text {
		if i > snippetBytes {
			break
		}
		cut = i
	}
	return text[:cut] + "..."
}
