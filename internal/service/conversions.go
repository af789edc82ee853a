package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/civchange/pdf2psd-back/internal/conversion"
	"github.com/civchange/pdf2psd-back/internal/domain"
	"github.com/civchange/pdf2psd-back/internal/policy"
	"github.com/civchange/pdf2psd-back/internal/progress"
	"github.com/civchange/pdf2psd-back/internal/queue"
	"github.com/civchange/pdf2psd-back/internal/quota"
	"github.com/civchange/pdf2psd-back/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var pdfMagic = []byte("%PDF-")

type ConversionServiceConfig struct {
	UploadDir           string
	OutputDir           string
	MaxUploadBytes      int64
	DeleteAfterDownload bool
}

// UploadInput is a file received from a client. Size is the declared size
// and may be -1 when unknown.
type UploadInput struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Download points at a finished PSD ready to be streamed.
type Download struct {
	JobID    string
	Path     string
	FileName string
	Size     int64
}

type AccountView struct {
	UserID          string      `json:"userId"`
	Email           string      `json:"email,omitempty"`
	Name            string      `json:"name,omitempty"`
	Plan            domain.Plan `json:"plan"`
	ConversionsLeft int         `json:"conversionsLeft"`
	Allotment       int         `json:"allotment"`
	Unlimited       bool        `json:"unlimited"`
}

// ConversionService drives a job from upload to a downloadable PSD.
type ConversionService struct {
	store       *repository.JobStore
	gate        *quota.Gate
	chain       *conversion.Chain
	broadcaster progress.Broadcaster
	producer    queue.Producer
	config      ConversionServiceConfig
	logger      zerolog.Logger
	now         func() time.Time
}

func NewConversionService(
	store *repository.JobStore,
	gate *quota.Gate,
	chain *conversion.Chain,
	broadcaster progress.Broadcaster,
	producer queue.Producer,
	config ConversionServiceConfig,
	logger zerolog.Logger,
) *ConversionService {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = policy.DefaultMaxUploadBytes
	}
	if config.UploadDir == "" {
		config.UploadDir = filepath.Join(os.TempDir(), "pdf2psd", "uploads")
	}
	if config.OutputDir == "" {
		config.OutputDir = filepath.Join(os.TempDir(), "pdf2psd", "outputs")
	}
	return &ConversionService{
		store:       store,
		gate:        gate,
		chain:       chain,
		broadcaster: broadcaster,
		producer:    producer,
		config:      config,
		logger:      logger.With().Str("component", "conversion_service").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *ConversionService) MaxUploadBytes() int64 {
	return s.config.MaxUploadBytes
}

func (s *ConversionService) ActiveJobs() int {
	return s.store.Len()
}

func (s *ConversionService) BroadcastMode() string {
	return s.broadcaster.Mode()
}

func (s *ConversionService) Strategies() []string {
	return s.chain.Names()
}

// Upload stores the PDF and registers a job in the uploaded state. On any
// failure the partial file is removed and no job exists.
func (s *ConversionService) Upload(ctx context.Context, input UploadInput) (domain.Job, error) {
	if err := policy.ValidateUpload(policy.UploadCandidate{
		FileName:    input.FileName,
		ContentType: input.ContentType,
		Size:        input.Size,
	}, s.config.MaxUploadBytes); err != nil {
		return domain.Job{}, err
	}
	if input.Body == nil {
		return domain.Job{}, domain.NewValidationError(domain.CodeMissingFile, "no file uploaded")
	}

	reader := bufio.NewReader(input.Body)
	head, err := reader.Peek(len(pdfMagic))
	if err != nil && len(head) == 0 {
		return domain.Job{}, domain.NewValidationError(domain.CodeMissingFile, "uploaded file is empty")
	}
	if !bytes.Equal(head, pdfMagic) {
		return domain.Job{}, domain.NewValidationError(domain.CodeInvalidFileType, "file content is not a PDF")
	}

	if err := os.MkdirAll(s.config.UploadDir, 0o755); err != nil {
		return domain.Job{}, fmt.Errorf("create upload dir: %w", err)
	}
	jobID := uuid.NewString()
	path := filepath.Join(s.config.UploadDir, jobID+"-"+policy.SanitizeFileName(input.FileName))

	written, err := writeLimited(ctx, path, reader, s.config.MaxUploadBytes)
	if err != nil {
		removeQuietly(path)
		return domain.Job{}, err
	}
	if _, err := conversion.Probe(path); err != nil {
		removeQuietly(path)
		s.logger.Info().Err(err).Str("file_name", input.FileName).Msg("rejected unreadable pdf upload")
		return domain.Job{}, domain.NewValidationError(domain.CodeInvalidFileType, "file is not a readable PDF")
	}

	job := domain.Job{
		ID:               jobID,
		Status:           domain.JobStatusUploaded,
		InputPath:        path,
		Progress:         0,
		Message:          "File uploaded successfully",
		OriginalFileName: input.FileName,
		FileSize:         written,
		UploadedAt:       s.now(),
	}
	s.store.Put(job)

	s.logger.Info().Str("job_id", jobID).Int64("size", written).Msg("pdf uploaded")
	return job, nil
}

// StartConversion admits the request and queues it. It returns as soon as
// the job is processing; the chain runs on a worker goroutine.
func (s *ConversionService) StartConversion(
	ctx context.Context,
	jobID string,
	userID string,
	enhanced bool,
) (domain.Job, error) {
	job, err := s.store.Get(jobID)
	if err != nil {
		return domain.Job{}, &domain.NotFoundError{Resource: "job", ID: jobID}
	}
	if job.Status != domain.JobStatusUploaded {
		return domain.Job{}, &domain.ConflictError{JobID: jobID, Status: job.Status}
	}
	if _, err := os.Stat(job.InputPath); err != nil {
		return domain.Job{}, &domain.NotFoundError{Resource: "file", ID: jobID}
	}
	if _, err := s.chain.Select(enhanced); err != nil {
		return domain.Job{}, err
	}
	if _, err := s.gate.Admit(ctx, userID); err != nil {
		return domain.Job{}, err
	}

	now := s.now()
	job, err = s.store.Update(jobID, func(current *domain.Job) error {
		if current.Status != domain.JobStatusUploaded {
			return &domain.ConflictError{JobID: jobID, Status: current.Status}
		}
		if err := current.Transition(domain.JobStatusPending, now); err != nil {
			return err
		}
		if err := current.Transition(domain.JobStatusProcessing, now); err != nil {
			return err
		}
		current.UserID = userID
		current.Enhanced = enhanced
		current.Message = "Starting conversion..."
		return nil
	})
	if err != nil {
		s.gate.Release(userID)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Job{}, &domain.NotFoundError{Resource: "job", ID: jobID}
		}
		return domain.Job{}, err
	}
	s.publish(ctx, domain.NewJobEvent(domain.EventProgress, job, now))

	task := domain.ConversionTask{
		JobID:       jobID,
		UserID:      userID,
		Enhanced:    enhanced,
		RequestedAt: now,
	}
	if err := s.producer.Enqueue(ctx, task); err != nil {
		s.fail(context.WithoutCancel(ctx), jobID, fmt.Errorf("enqueue conversion: %w", err))
		return domain.Job{}, fmt.Errorf("enqueue conversion: %w", err)
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("user_id", userID).
		Bool("enhanced", enhanced).
		Msg("conversion queued")
	return job, nil
}

// Execute runs the strategy chain for a queued task and finalizes the job.
func (s *ConversionService) Execute(ctx context.Context, task domain.ConversionTask) error {
	job, err := s.store.Get(task.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", task.JobID, err)
	}
	if job.Status != domain.JobStatusProcessing {
		s.logger.Warn().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("skipping task for job not in processing")
		return nil
	}

	chain, err := s.chain.Select(task.Enhanced)
	if err != nil {
		s.fail(ctx, job.ID, err)
		return err
	}
	if err := os.MkdirAll(s.config.OutputDir, 0o755); err != nil {
		s.fail(ctx, job.ID, err)
		return fmt.Errorf("create output dir: %w", err)
	}

	output := filepath.Join(s.config.OutputDir, job.ID+".psd")
	sink := conversion.ProgressFunc(func(percent int, message string) {
		s.reportProgress(ctx, job.ID, percent, message)
	})

	result, runErr := chain.Run(ctx, job.InputPath, output, sink)
	if runErr != nil {
		s.fail(context.WithoutCancel(ctx), job.ID, runErr)
		return runErr
	}
	s.complete(context.WithoutCancel(ctx), job.ID, task.UserID, result)
	return nil
}

func (s *ConversionService) Status(_ context.Context, jobID string) (domain.JobView, error) {
	job, err := s.store.Get(jobID)
	if err != nil {
		return domain.JobView{}, &domain.NotFoundError{Resource: "job", ID: jobID}
	}
	return job.View(), nil
}

// Snapshot is the current state of a job framed as a job-status event.
func (s *ConversionService) Snapshot(jobID string) (domain.Event, bool) {
	job, err := s.store.Get(jobID)
	if err != nil {
		return domain.Event{}, false
	}
	return domain.NewJobEvent(domain.EventJobStatus, job, s.now()), true
}

func (s *ConversionService) Subscribe(jobID string, observer progress.Observer) {
	s.broadcaster.Subscribe(jobID, observer)
}

func (s *ConversionService) Unsubscribe(jobID string, observer progress.Observer) {
	s.broadcaster.Unsubscribe(jobID, observer)
}

func (s *ConversionService) OpenDownload(_ context.Context, jobID string) (Download, error) {
	job, err := s.store.Get(jobID)
	if err != nil || job.Status != domain.JobStatusCompleted || job.OutputPath == "" {
		return Download{}, &domain.NotFoundError{Resource: "download", ID: jobID}
	}
	info, err := os.Stat(job.OutputPath)
	if err != nil {
		return Download{}, &domain.NotFoundError{Resource: "download", ID: jobID}
	}
	return Download{
		JobID:    job.ID,
		Path:     job.OutputPath,
		FileName: policy.DownloadName(job.OriginalFileName),
		Size:     info.Size(),
	}, nil
}

// ReleaseDownload evicts a delivered job when post-download cleanup is on.
func (s *ConversionService) ReleaseDownload(jobID string) {
	if !s.config.DeleteAfterDownload {
		return
	}
	job, ok := s.store.DeleteIf(jobID, func(job domain.Job) bool {
		return job.Status == domain.JobStatusCompleted
	})
	if !ok {
		return
	}
	s.removeFile(job.ID, job.OutputPath)
	s.removeFile(job.ID, job.InputPath)
}

func (s *ConversionService) Account(ctx context.Context, userID string) (AccountView, error) {
	user, err := s.gate.Account(ctx, userID)
	if err != nil {
		return AccountView{}, err
	}
	return AccountView{
		UserID:          user.ID,
		Email:           user.Email,
		Name:            user.Name,
		Plan:            user.Plan,
		ConversionsLeft: user.ConversionsLeft,
		Allotment:       user.Plan.Allotment(),
		Unlimited:       user.Plan.Unlimited(),
	}, nil
}

var errStaleProgress = errors.New("stale progress report")

func (s *ConversionService) reportProgress(ctx context.Context, jobID string, percent int, message string) {
	job, err := s.store.Update(jobID, func(current *domain.Job) error {
		if !current.AdvanceProgress(percent, message) {
			return errStaleProgress
		}
		return nil
	})
	if err != nil {
		return
	}
	s.publish(ctx, domain.NewJobEvent(domain.EventProgress, job, s.now()))
}

func (s *ConversionService) complete(ctx context.Context, jobID, userID string, result domain.ConversionResult) {
	now := s.now()
	job, err := s.store.Update(jobID, func(current *domain.Job) error {
		return current.Complete(result, now)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("finalize completed job failed")
		s.removeFile(jobID, result.OutputPath)
		return
	}

	if remaining, err := s.gate.Settle(ctx, userID); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Str("user_id", userID).Msg("settle quota failed")
	} else {
		s.logger.Info().
			Str("job_id", jobID).
			Str("user_id", userID).
			Str("strategy", result.Strategy).
			Int("conversions_left", remaining).
			Msg("conversion completed")
	}

	s.publish(ctx, domain.NewJobEvent(domain.EventComplete, job, now))
	s.removeFile(jobID, job.InputPath)
}

func (s *ConversionService) fail(ctx context.Context, jobID string, cause error) {
	now := s.now()
	job, err := s.store.Update(jobID, func(current *domain.Job) error {
		return current.Fail(cause.Error(), now)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("finalize failed job failed")
		return
	}
	if job.UserID != "" {
		s.gate.Release(job.UserID)
	}
	s.logger.Warn().Err(cause).Str("job_id", jobID).Msg("conversion failed")

	s.publish(ctx, domain.NewJobEvent(domain.EventError, job, now))
	s.removeFile(jobID, job.InputPath)
}

func (s *ConversionService) publish(ctx context.Context, event domain.Event) {
	if err := s.broadcaster.Publish(ctx, event.JobID, event); err != nil {
		s.logger.Warn().Err(err).Str("job_id", event.JobID).Str("event", string(event.Type)).Msg("publish progress event failed")
	}
}

func (s *ConversionService) removeFile(jobID, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("path", path).Msg("remove job file failed")
	}
}

func writeLimited(ctx context.Context, path string, body io.Reader, maxBytes int64) (int64, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}
	written, copyErr := io.Copy(file, &contextReader{ctx: ctx, reader: io.LimitReader(body, maxBytes+1)})
	closeErr := file.Close()
	if copyErr != nil {
		return 0, fmt.Errorf("store upload: %w", copyErr)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("close upload file: %w", closeErr)
	}
	if written > maxBytes {
		return 0, policy.TooLarge(maxBytes)
	}
	return written, nil
}

type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(p)
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}
