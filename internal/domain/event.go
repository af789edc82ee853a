package domain

import "time"

type EventType string

const (
	EventJobStatus EventType = "job-status"
	EventProgress  EventType = "conversion-progress"
	EventComplete  EventType = "conversion-complete"
	EventError     EventType = "conversion-error"
)

// Event is what subscribers of a job topic receive.
type Event struct {
	Type        EventType   `json:"type"`
	JobID       string      `json:"jobId"`
	Status      JobStatus   `json:"status"`
	Progress    int         `json:"progress"`
	Message     string      `json:"message"`
	DownloadURL string      `json:"downloadUrl,omitempty"`
	Result      *ResultView `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Terminal reports whether the event closes the job's stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// NewJobEvent builds an event of the given type from the job's current state.
func NewJobEvent(eventType EventType, job Job, now time.Time) Event {
	view := job.View()
	return Event{
		Type:        eventType,
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		Message:     job.Message,
		DownloadURL: view.DownloadURL,
		Result:      view.Result,
		Error:       job.Error,
		Timestamp:   now,
	}
}
