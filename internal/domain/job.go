package domain

import (
	"errors"
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatusUploaded   JobStatus = "uploaded"
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

var ErrInvalidTransition = errors.New("invalid job status transition")

// Terminal reports whether no further transitions can occur.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// CanTransitionTo encodes uploaded -> pending -> processing -> {completed|error}.
// A job that was never picked up may still fail from pending.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusUploaded:
		return next == JobStatusPending
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusError
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusError
	default:
		return false
	}
}

// Job is one tracked conversion request. Records live only in memory.
type Job struct {
	ID               string
	Status           JobStatus
	UserID           string
	Enhanced         bool
	InputPath        string
	OutputPath       string
	Progress         int
	Message          string
	OriginalFileName string
	FileSize         int64
	Error            string
	Strategy         string
	UploadedAt       time.Time
	StartedAt        time.Time
	CompletedAt      time.Time
	Result           *ConversionResult
}

// Transition moves the job to next, stamping lifecycle timestamps.
func (j *Job) Transition(next JobStatus, now time.Time) error {
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	switch next {
	case JobStatusProcessing:
		j.Progress = 0
		j.StartedAt = now
	case JobStatusCompleted, JobStatusError:
		j.CompletedAt = now
	}
	return nil
}

// AdvanceProgress applies a progress report, ignoring values that would move
// backwards. It returns false when the report was dropped.
func (j *Job) AdvanceProgress(progress int, message string) bool {
	if j.Status != JobStatusProcessing {
		return false
	}
	progress = clampPercent(progress)
	if progress < j.Progress {
		return false
	}
	j.Progress = progress
	if message != "" {
		j.Message = message
	}
	return true
}

// Complete finalizes a successful conversion.
func (j *Job) Complete(result ConversionResult, now time.Time) error {
	if err := j.Transition(JobStatusCompleted, now); err != nil {
		return err
	}
	j.Progress = 100
	j.Message = "Conversion completed successfully"
	j.OutputPath = result.OutputPath
	j.Strategy = result.Strategy
	j.Error = ""
	j.Result = &result
	return nil
}

// Fail finalizes a failed conversion. Progress is left where it stopped.
func (j *Job) Fail(reason string, now time.Time) error {
	if err := j.Transition(JobStatusError, now); err != nil {
		return err
	}
	j.Error = reason
	j.Message = "Conversion failed"
	j.Result = nil
	return nil
}

// StaleSince returns the timestamp the janitor measures retention from and
// whether the job is eligible for eviction at all.
func (j Job) StaleSince() (time.Time, bool) {
	switch {
	case j.Status.Terminal():
		return j.CompletedAt, true
	case j.Status == JobStatusUploaded:
		return j.UploadedAt, true
	default:
		return time.Time{}, false
	}
}

func (j Job) DownloadURL() string {
	if j.Status != JobStatusCompleted {
		return ""
	}
	return "/api/download/" + j.ID
}

// View projects the job for untrusted callers; filesystem paths stay hidden.
func (j Job) View() JobView {
	view := JobView{
		ID:          j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		Message:     j.Message,
		FileName:    j.OriginalFileName,
		FileSize:    j.FileSize,
		DownloadURL: j.DownloadURL(),
		Error:       j.Error,
		UploadedAt:  j.UploadedAt,
		StartedAt:   optionalTime(j.StartedAt),
		CompletedAt: optionalTime(j.CompletedAt),
	}
	if j.Result != nil {
		view.Result = &ResultView{
			Strategy: j.Result.Strategy,
			Size:     j.Result.Size,
			Pages:    j.Result.Pages,
			Width:    j.Result.Width,
			Height:   j.Result.Height,
		}
	}
	return view
}

type JobView struct {
	ID          string      `json:"id"`
	Status      JobStatus   `json:"status"`
	Progress    int         `json:"progress"`
	Message     string      `json:"message"`
	FileName    string      `json:"fileName"`
	FileSize    int64       `json:"fileSize"`
	DownloadURL string      `json:"downloadUrl,omitempty"`
	Error       string      `json:"error,omitempty"`
	Result      *ResultView `json:"result,omitempty"`
	UploadedAt  time.Time   `json:"uploadedAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// ConversionResult is what a strategy produced. Treat it as immutable.
type ConversionResult struct {
	Success    bool
	OutputPath string
	Size       int64
	Strategy   string
	Pages      int
	Width      int
	Height     int
}

type ResultView struct {
	Strategy string `json:"strategy"`
	Size     int64  `json:"size"`
	Pages    int    `json:"pages,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// ConversionTask is the unit handed from the HTTP path to worker goroutines.
type ConversionTask struct {
	JobID       string
	UserID      string
	Enhanced    bool
	RequestedAt time.Time
}

func clampPercent(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	return &value
}
