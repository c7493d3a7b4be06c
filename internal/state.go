package internal

// JobState is the position of a job in the pipeline state machine.
type JobState string

const (
	JobStateQueued      JobState = "queued"
	JobStateDownloading JobState = "downloading"
	JobStateProcessing  JobState = "processing"
	JobStateUploading   JobState = "uploading"
	JobStateCompleted   JobState = "completed"
	JobStateFailed      JobState = "failed"
)

// CanTransition reports whether the pipeline may move from s to next.
// Failed -> Queued is owned by the queue and is never taken by the pipeline.
func (s JobState) CanTransition(next JobState) bool {
	if next == JobStateFailed {
		return s != JobStateCompleted && s != JobStateFailed
	}
	switch s {
	case JobStateQueued:
		return next == JobStateDownloading
	case JobStateDownloading:
		return next == JobStateProcessing
	case JobStateProcessing:
		return next == JobStateUploading
	case JobStateUploading:
		return next == JobStateCompleted
	default:
		return false
	}
}

// IsTerminal reports whether no further pipeline transition is possible.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// EventType is the type field of a ProgressEvent.
type EventType string

const (
	EventDownloading EventType = "downloading"
	EventProcessing  EventType = "processing"
	EventUploading   EventType = "uploading"
	EventCompleted   EventType = "completed"
	EventError       EventType = "error"
)

// ProgressEvent is emitted at pipeline milestones and while long stages run.
type ProgressEvent struct {
	Type       EventType `json:"type"`
	VideoID    string    `json:"videoId"`
	Percent    int       `json:"percent"`
	Status     string    `json:"status"`
	Error      *string   `json:"error,omitempty"`
	Resolution string    `json:"resolution,omitempty"`
}

// StateForEvent returns the job state an event implies.
func StateForEvent(t EventType) JobState {
	switch t {
	case EventDownloading:
		return JobStateDownloading
	case EventProcessing:
		return JobStateProcessing
	case EventUploading:
		return JobStateUploading
	case EventCompleted:
		return JobStateCompleted
	case EventError:
		return JobStateFailed
	default:
		return JobStateQueued
	}
}
