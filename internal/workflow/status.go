package workflow

import (
	"time"

	"camrecorder/internal/queue"
)

// Phase is the record cycle position.
type Phase string

const (
	PhaseStopped    Phase = "stopped"
	PhaseIdle       Phase = "idle"
	PhaseCapturing  Phase = "capturing"
	PhaseDispatched Phase = "dispatched"
	PhaseBackoff    Phase = "backoff"
)

type recordState struct {
	Phase            Phase
	StartedAt        time.Time
	Recording        string
	RecordingSince   time.Time
	LastSegment      string
	LastCaptureError string
	Completed        int
	Partial          int
	Failed           int
	Evicted          int
	UsageBytes       int64
	FreeBytes        uint64
}

// Status summarizes the running workflow.
type Status struct {
	Running          bool         `json:"running"`
	Phase            Phase        `json:"phase"`
	StartedAt        time.Time    `json:"started_at,omitzero"`
	Recording        string       `json:"recording,omitempty"`
	RecordingSince   time.Time    `json:"recording_since,omitzero"`
	LastSegment      string       `json:"last_segment,omitempty"`
	LastCaptureError string       `json:"last_capture_error,omitempty"`
	Completed        int          `json:"completed"`
	Partial          int          `json:"partial"`
	CaptureFailures  int          `json:"capture_failures"`
	Evicted          int          `json:"evicted"`
	UsageBytes       int64        `json:"usage_bytes"`
	FreeBytes        uint64       `json:"free_bytes"`
	Pending          []string     `json:"pending"`
	Upload           UploadStatus `json:"upload"`
}

// UploadStatus mirrors the worker snapshot.
type UploadStatus struct {
	State     string `json:"state"`
	Current   string `json:"current,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Uploaded  int    `json:"uploaded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	LastError string `json:"last_error,omitempty"`
}

// Status returns a snapshot of the record cycle, the queue and the worker.
func (m *Manager) Status() Status {
	m.mu.RLock()
	st := m.state
	running := m.running
	m.mu.RUnlock()

	var upload queue.Status
	if m.deps.Uploads != nil {
		upload = m.deps.Uploads.Snapshot()
	}
	return Status{
		Running:          running,
		Phase:            st.Phase,
		StartedAt:        st.StartedAt,
		Recording:        st.Recording,
		RecordingSince:   st.RecordingSince,
		LastSegment:      st.LastSegment,
		LastCaptureError: st.LastCaptureError,
		Completed:        st.Completed,
		Partial:          st.Partial,
		CaptureFailures:  st.Failed,
		Evicted:          st.Evicted,
		UsageBytes:       st.UsageBytes,
		FreeBytes:        st.FreeBytes,
		Pending:          m.deps.Queue.Pending(),
		Upload: UploadStatus{
			State:     upload.State,
			Current:   upload.Current,
			Attempt:   upload.Attempt,
			Uploaded:  upload.Uploaded,
			Failed:    upload.Failed,
			Skipped:   upload.Skipped,
			LastError: upload.LastError,
		},
	}
}
