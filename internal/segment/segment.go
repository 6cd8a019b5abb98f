package segment

import (
	"errors"
	"sync"
	"time"
)

// CompletionState tracks how a capture ended.
type CompletionState string

const (
	Recording CompletionState = "recording"
	Completed CompletionState = "completed"
	Partial   CompletionState = "partial"
	Failed    CompletionState = "failed"
)

// Terminal reports whether the state is one a capture can end in.
func (s CompletionState) Terminal() bool {
	return s == Completed || s == Partial || s == Failed
}

// UploadState tracks delivery to the hosting service.
type UploadState string

const (
	UploadPending  UploadState = "pending"
	UploadInFlight UploadState = "in_flight"
	Uploaded       UploadState = "uploaded"
	UploadFailed   UploadState = "upload_failed"
)

var (
	ErrAlreadyTerminal = errors.New("segment already left recording state")
	ErrNotTerminal     = errors.New("segment state is not terminal")
	ErrPlaybackRefSet  = errors.New("playback reference already set")
)

// Segment is one bounded-duration recording file. The path is the identity and
// never changes once the segment exists.
type Segment struct {
	mu sync.Mutex

	Path           string
	CreatedAt      time.Time
	TargetDuration time.Duration

	actualDuration time.Duration
	completion     CompletionState
	upload         UploadState
	playbackRef    string
	size           int64
}

// New returns a segment in the recording state.
func New(path string, createdAt time.Time, target time.Duration) *Segment {
	return &Segment{
		Path:           path,
		CreatedAt:      createdAt,
		TargetDuration: target,
		completion:     Recording,
		upload:         UploadPending,
	}
}

// Restore returns a segment found on disk from a previous run. It is treated
// as a completed capture awaiting upload.
func Restore(path string, modTime time.Time, size int64) *Segment {
	return &Segment{
		Path:       path,
		CreatedAt:  modTime,
		completion: Completed,
		upload:     UploadPending,
		size:       size,
	}
}

// Complete moves the segment out of recording exactly once.
func (s *Segment) Complete(state CompletionState, actual time.Duration, size int64) error {
	if !state.Terminal() {
		return ErrNotTerminal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completion != Recording {
		return ErrAlreadyTerminal
	}
	s.completion = state
	s.actualDuration = actual
	s.size = size
	return nil
}

// SetUploadState records an upload transition.
func (s *Segment) SetUploadState(state UploadState) {
	s.mu.Lock()
	s.upload = state
	s.mu.Unlock()
}

// AttachPlaybackRef sets the reference returned by the hosting service. It can
// be set only once.
func (s *Segment) AttachPlaybackRef(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playbackRef != "" {
		return ErrPlaybackRefSet
	}
	s.playbackRef = ref
	return nil
}

func (s *Segment) Completion() CompletionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completion
}

func (s *Segment) Upload() UploadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload
}

func (s *Segment) PlaybackRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playbackRef
}

func (s *Segment) ActualDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actualDuration
}

func (s *Segment) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Title is the human-readable name sent to the hosting service.
func (s *Segment) Title() string {
	return Title(s.Path)
}
