package notifications

// Event identifies an operator notification.
type Event string

const (
	EventRecorderStarted  Event = "recorder_started"
	EventRecorderStopped  Event = "recorder_stopped"
	EventBacklogEnqueued  Event = "backlog_enqueued"
	EventRecordingStarted Event = "recording_started"
	EventCaptureFailed    Event = "capture_failed"
	EventUploadCompleted  Event = "upload_completed"
	EventUploadFailed     Event = "upload_failed"
	EventLowDisk          Event = "low_disk"
	EventNetworkBusy      Event = "network_busy"
	EventNetworkClear     Event = "network_clear"
	EventTest             Event = "test"
)

// Payload carries event fields. Keys used by the renderer:
//
//	title, link, attempts, error, count, free_bytes, devices
type Payload map[string]any

// throttled events share the rate limiter so a flapping camera or a full disk
// cannot flood the channel. Upload outcomes are never throttled.
func (e Event) throttled() bool {
	switch e {
	case EventCaptureFailed, EventLowDisk:
		return true
	default:
		return false
	}
}

// plain events carry raw diagnostics and are sent without markup.
func (e Event) plain() bool {
	switch e {
	case EventCaptureFailed, EventUploadFailed:
		return true
	default:
		return false
	}
}
