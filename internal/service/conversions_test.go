package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/civchange/pdf2psd-back/internal/conversion"
	"github.com/civchange/pdf2psd-back/internal/domain"
	"github.com/civchange/pdf2psd-back/internal/progress"
	"github.com/civchange/pdf2psd-back/internal/quality"
	"github.com/civchange/pdf2psd-back/internal/quota"
	"github.com/civchange/pdf2psd-back/internal/repository"
	"github.com/civchange/pdf2psd-back/internal/testutil"
	"github.com/rs/zerolog"
)

type spyStrategy struct {
	name  string
	fail  error
	block chan struct{}
	calls atomic.Int32
}

func (s *spyStrategy) Name() string { return s.name }

func (s *spyStrategy) Init(context.Context) error { return nil }

func (s *spyStrategy) Convert(_ context.Context, _ string, output string, sink conversion.ProgressSink) (domain.ConversionResult, error) {
	s.calls.Add(1)
	for _, step := range []int{10, 40, 70} {
		sink.Report(step, s.name+" working")
	}
	if s.block != nil {
		<-s.block
		return domain.ConversionResult{}, errors.New("abandoned")
	}
	if s.fail != nil {
		return domain.ConversionResult{}, s.fail
	}
	payload := append(quality.PSDHeader(64, 32), bytes.Repeat([]byte{1}, 2048)...)
	if err := os.WriteFile(output, payload, 0o600); err != nil {
		return domain.ConversionResult{}, err
	}
	return domain.ConversionResult{Success: true, OutputPath: output, Strategy: s.name}, nil
}

type recordingProducer struct {
	mu    sync.Mutex
	tasks []domain.ConversionTask
	err   error
}

func (p *recordingProducer) Enqueue(_ context.Context, task domain.ConversionTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *recordingProducer) drain() []domain.ConversionTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	tasks := p.tasks
	p.tasks = nil
	return tasks
}

type harness struct {
	service     *ConversionService
	store       *repository.JobStore
	users       *repository.MemoryUsersRepository
	broadcaster *progress.LocalBroadcaster
	producer    *recordingProducer
	gate        *quota.Gate
	dir         string
}

func newHarness(t *testing.T, links ...conversion.Link) *harness {
	t.Helper()
	dir := t.TempDir()
	store := repository.NewJobStore()
	users := repository.NewMemoryUsersRepository()
	broadcaster := progress.NewLocalBroadcaster(zerolog.Nop())
	producer := &recordingProducer{}
	gate := quota.NewGate(users)
	svc := NewConversionService(
		store,
		gate,
		conversion.NewChain(zerolog.Nop(), links...),
		broadcaster,
		producer,
		ConversionServiceConfig{
			UploadDir:      filepath.Join(dir, "uploads"),
			OutputDir:      filepath.Join(dir, "outputs"),
			MaxUploadBytes: 8 << 20,
		},
		zerolog.Nop(),
	)
	return &harness{service: svc, store: store, users: users, broadcaster: broadcaster, producer: producer, gate: gate, dir: dir}
}

func (h *harness) seedUser(t *testing.T, id string, plan domain.Plan, left int) {
	t.Helper()
	if err := h.users.SaveUser(context.Background(), &domain.User{ID: id, Plan: plan, ConversionsLeft: left}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func (h *harness) upload(t *testing.T, size int) domain.Job {
	t.Helper()
	body := testutil.PDF(size)
	job, err := h.service.Upload(context.Background(), UploadInput{
		FileName:    "poster.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(body)),
		Body:        bytes.NewReader(body),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return job
}

func (h *harness) conversionsLeft(t *testing.T, userID string) int {
	t.Helper()
	user, err := h.users.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	return user.ConversionsLeft
}

func TestUploadConvertDownloadFlow(t *testing.T) {
	strategy := &spyStrategy{name: "magick-300dpi"}
	h := newHarness(t, conversion.Link{Strategy: strategy, HighFidelity: true, MinOutputBytes: 1024})
	h.seedUser(t, "u1", domain.PlanFree, 1)

	job := h.upload(t, 2<<20)
	if job.Status != domain.JobStatusUploaded || job.Progress != 0 {
		t.Fatalf("expected uploaded job at 0, got %s/%d", job.Status, job.Progress)
	}
	if job.FileSize < 2<<20 {
		t.Fatalf("expected stored size of at least 2MB, got %d", job.FileSize)
	}

	started, err := h.service.StartConversion(context.Background(), job.ID, "u1", false)
	if err != nil {
		t.Fatalf("start conversion: %v", err)
	}
	if started.Status != domain.JobStatusProcessing || started.StartedAt.IsZero() {
		t.Fatalf("expected processing with start time, got %+v", started)
	}

	tasks := h.producer.drain()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 queued task, got %d", len(tasks))
	}
	if err := h.service.Execute(context.Background(), tasks[0]); err != nil {
		t.Fatalf("execute: %v", err)
	}

	view, err := h.service.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != domain.JobStatusCompleted || view.Progress != 100 {
		t.Fatalf("expected completed at 100, got %s/%d", view.Status, view.Progress)
	}
	if view.DownloadURL != "/api/download/"+job.ID {
		t.Fatalf("unexpected download url %q", view.DownloadURL)
	}
	if view.Result == nil || view.Result.Strategy != "magick-300dpi" || view.Result.Pages != 1 {
		t.Fatalf("unexpected result view %+v", view.Result)
	}
	if left := h.conversionsLeft(t, "u1"); left != 0 {
		t.Fatalf("expected quota charged once, got %d left", left)
	}
	if _, err := os.Stat(job.InputPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected input removed after conversion, got %v", err)
	}

	download, err := h.service.OpenDownload(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("open download: %v", err)
	}
	if download.FileName != "poster.psd" || download.Size == 0 {
		t.Fatalf("unexpected download %+v", download)
	}
}

func TestStartConversionDeniedWithoutInvokingStrategy(t *testing.T) {
	strategy := &spyStrategy{name: "spy"}
	h := newHarness(t, conversion.Link{Strategy: strategy})
	h.seedUser(t, "free-user", domain.PlanFree, 0)
	job := h.upload(t, 0)

	_, err := h.service.StartConversion(context.Background(), job.ID, "free-user", false)
	var quotaErr *domain.QuotaError
	if !errors.As(err, &quotaErr) || quotaErr.Reason != domain.QuotaFreeExhausted {
		t.Fatalf("expected free quota denial, got %v", err)
	}
	if strategy.calls.Load() != 0 {
		t.Fatalf("expected strategy not to be invoked")
	}
	if len(h.producer.drain()) != 0 {
		t.Fatalf("expected nothing queued")
	}
	stored, _ := h.store.Get(job.ID)
	if stored.Status != domain.JobStatusUploaded {
		t.Fatalf("expected job to stay uploaded, got %s", stored.Status)
	}
}

func TestFreeUserCannotStartMoreJobsThanRemaining(t *testing.T) {
	h := newHarness(t, conversion.Link{Strategy: &spyStrategy{name: "fast"}})
	h.seedUser(t, "free-user", domain.PlanFree, 1)
	first := h.upload(t, 0)
	second := h.upload(t, 0)

	if _, err := h.service.StartConversion(context.Background(), first.ID, "free-user", false); err != nil {
		t.Fatalf("expected first conversion to start, got %v", err)
	}
	_, err := h.service.StartConversion(context.Background(), second.ID, "free-user", false)
	var quotaErr *domain.QuotaError
	if !errors.As(err, &quotaErr) || quotaErr.Reason != domain.QuotaFreeExhausted {
		t.Fatalf("expected free quota denial while the first job is in flight, got %v", err)
	}
	if quotaErr.Remaining != 0 {
		t.Fatalf("expected 0 available, got %d", quotaErr.Remaining)
	}

	tasks := h.producer.drain()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 queued task, got %d", len(tasks))
	}
	if err := h.service.Execute(context.Background(), tasks[0]); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if left := h.conversionsLeft(t, "free-user"); left != 0 {
		t.Fatalf("expected 0 conversions left, got %d", left)
	}
	if _, err := h.service.StartConversion(context.Background(), second.ID, "free-user", false); err == nil {
		t.Fatalf("expected denial after the only conversion was charged")
	}
	if got := h.gate.InFlight("free-user"); got != 0 {
		t.Fatalf("expected no slots in flight, got %d", got)
	}
}

func TestFailedJobReleasesReservedSlot(t *testing.T) {
	h := newHarness(t, conversion.Link{Strategy: &spyStrategy{name: "broken", fail: errors.New("engine crashed")}})
	h.seedUser(t, "free-user", domain.PlanFree, 1)
	first := h.upload(t, 0)
	second := h.upload(t, 0)

	if _, err := h.service.StartConversion(context.Background(), first.ID, "free-user", false); err != nil {
		t.Fatalf("start conversion: %v", err)
	}
	if err := h.service.Execute(context.Background(), h.producer.drain()[0]); err == nil {
		t.Fatalf("expected conversion failure")
	}
	if got := h.gate.InFlight("free-user"); got != 0 {
		t.Fatalf("expected slot released after failure, got %d", got)
	}
	if _, err := h.service.StartConversion(context.Background(), second.ID, "free-user", false); err != nil {
		t.Fatalf("expected retry to be admitted after failure, got %v", err)
	}
}

func TestExhaustedChainFailsWithoutCharging(t *testing.T) {
	h := newHarness(t,
		conversion.Link{Strategy: &spyStrategy{name: "a", fail: errors.New("engine crashed")}},
		conversion.Link{Strategy: &spyStrategy{name: "b", fail: errors.New("renderer missing")}},
	)
	h.seedUser(t, "u1", domain.PlanPro, 5)
	job := h.upload(t, 0)

	observer := progress.NewChannelObserver(64)
	h.service.Subscribe(job.ID, observer)

	if _, err := h.service.StartConversion(context.Background(), job.ID, "u1", false); err != nil {
		t.Fatalf("start conversion: %v", err)
	}
	err := h.service.Execute(context.Background(), h.producer.drain()[0])
	var conversionErr *domain.ConversionError
	if !errors.As(err, &conversionErr) {
		t.Fatalf("expected conversion error, got %v", err)
	}

	stored, _ := h.store.Get(job.ID)
	if stored.Status != domain.JobStatusError || stored.Error == "" || stored.CompletedAt.IsZero() {
		t.Fatalf("expected error status with reason, got %+v", stored)
	}
	if stored.Result != nil {
		t.Fatalf("expected no result on failure")
	}
	if left := h.conversionsLeft(t, "u1"); left != 5 {
		t.Fatalf("expected quota unchanged at 5, got %d", left)
	}
	if _, err := os.Stat(job.InputPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected input removed after failure, got %v", err)
	}

	h.service.Unsubscribe(job.ID, observer)
	observer.Close()
	var last domain.Event
	for event := range observer.Events() {
		last = event
	}
	if last.Type != domain.EventError || last.Error == "" {
		t.Fatalf("expected terminal error event, got %+v", last)
	}
}

func TestConcurrentCompletionsChargeEachJob(t *testing.T) {
	h := newHarness(t, conversion.Link{Strategy: &spyStrategy{name: "fast"}})
	h.seedUser(t, "u1", domain.PlanBasic, 20)

	const jobs = 6
	for i := 0; i < jobs; i++ {
		job := h.upload(t, 0)
		if _, err := h.service.StartConversion(context.Background(), job.ID, "u1", false); err != nil {
			t.Fatalf("start conversion %d: %v", i, err)
		}
	}

	var wg sync.WaitGroup
	for _, task := range h.producer.drain() {
		wg.Add(1)
		go func(task domain.ConversionTask) {
			defer wg.Done()
			if err := h.service.Execute(context.Background(), task); err != nil {
				t.Errorf("execute %s: %v", task.JobID, err)
			}
		}(task)
	}
	wg.Wait()

	if left := h.conversionsLeft(t, "u1"); left != 20-jobs {
		t.Fatalf("expected %d conversions left, got %d", 20-jobs, left)
	}
}

func TestSubscriberSeesMonotonicProgressAcrossFallback(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := newHarness(t,
		conversion.Link{Strategy: &spyStrategy{name: "slow", block: release}, ExecTimeout: 50 * time.Millisecond},
		conversion.Link{Strategy: &spyStrategy{name: "fast"}, ExecTimeout: time.Second},
	)
	h.seedUser(t, "u1", domain.PlanPremium, 3)
	job := h.upload(t, 0)

	observer := progress.NewChannelObserver(128)
	h.service.Subscribe(job.ID, observer)
	if _, err := h.service.StartConversion(context.Background(), job.ID, "u1", false); err != nil {
		t.Fatalf("start conversion: %v", err)
	}
	if err := h.service.Execute(context.Background(), h.producer.drain()[0]); err != nil {
		t.Fatalf("execute: %v", err)
	}
	h.service.Unsubscribe(job.ID, observer)
	observer.Close()

	var events []domain.Event
	for event := range observer.Events() {
		events = append(events, event)
	}
	if len(events) == 0 {
		t.Fatalf("expected events")
	}
	for i := 1; i < len(events); i++ {
		if events[i].Progress < events[i-1].Progress {
			t.Fatalf("expected non-decreasing progress, got %d after %d", events[i].Progress, events[i-1].Progress)
		}
	}
	last := events[len(events)-1]
	if last.Type != domain.EventComplete || last.Progress != 100 || last.Result == nil || last.Result.Strategy != "fast" {
		t.Fatalf("expected completion by fast strategy, got %+v", last)
	}
}

func TestStartConversionErrors(t *testing.T) {
	h := newHarness(t, conversion.Link{Strategy: &spyStrategy{name: "magick-150dpi"}})
	h.seedUser(t, "u1", domain.PlanPro, 0)
	h.seedUser(t, "u2", domain.PlanBasic, 3)

	_, err := h.service.StartConversion(context.Background(), "missing", "u2", false)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	job := h.upload(t, 0)
	_, err = h.service.StartConversion(context.Background(), job.ID, "u1", false)
	var quotaErr *domain.QuotaError
	if !errors.As(err, &quotaErr) || quotaErr.Reason != domain.QuotaPaidExhausted {
		t.Fatalf("expected paid quota denial, got %v", err)
	}

	_, err = h.service.StartConversion(context.Background(), job.ID, "u2", true)
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) || validationErr.Code != domain.CodeEnhancedUnavailable {
		t.Fatalf("expected enhanced unavailable, got %v", err)
	}

	if _, err := h.service.StartConversion(context.Background(), job.ID, "u2", false); err != nil {
		t.Fatalf("start conversion: %v", err)
	}
	_, err = h.service.StartConversion(context.Background(), job.ID, "u2", false)
	var conflictErr *domain.ConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected conflict on second start, got %v", err)
	}

	other := h.upload(t, 0)
	if err := os.Remove(other.InputPath); err != nil {
		t.Fatalf("remove input: %v", err)
	}
	_, err = h.service.StartConversion(context.Background(), other.ID, "u2", false)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for missing input file, got %v", err)
	}
}

func TestStartConversionEnqueueFailureFinalizesJob(t *testing.T) {
	h := newHarness(t, conversion.Link{Strategy: &spyStrategy{name: "a"}})
	h.seedUser(t, "u1", domain.PlanBasic, 3)
	h.producer.err = errors.New("queue closed")
	job := h.upload(t, 0)

	if _, err := h.service.StartConversion(context.Background(), job.ID, "u1", false); err == nil {
		t.Fatalf("expected enqueue failure")
	}
	stored, _ := h.store.Get(job.ID)
	if stored.Status != domain.JobStatusError {
		t.Fatalf("expected error status, got %s", stored.Status)
	}
	if left := h.conversionsLeft(t, "u1"); left != 3 {
		t.Fatalf("expected quota untouched, got %d", left)
	}
	if got := h.gate.InFlight("u1"); got != 0 {
		t.Fatalf("expected reserved slot released, got %d", got)
	}
}

func TestUploadRejectsInvalidFiles(t *testing.T) {
	h := newHarness(t, conversion.Link{Strategy: &spyStrategy{name: "a"}})

	cases := []struct {
		name  string
		input UploadInput
		code  string
	}{
		{
			name:  "png disguised by name",
			input: UploadInput{FileName: "image.pdf", ContentType: "application/pdf", Size: 12, Body: bytes.NewReader([]byte("\x89PNG\r\n\x1a\nxxxx"))},
			code:  domain.CodeInvalidFileType,
		},
		{
			name:  "wrong content type",
			input: UploadInput{FileName: "notes.txt", ContentType: "text/plain", Size: 5, Body: bytes.NewReader([]byte("hello"))},
			code:  domain.CodeInvalidFileType,
		},
		{
			name:  "broken pdf",
			input: UploadInput{FileName: "broken.pdf", ContentType: "application/pdf", Size: -1, Body: bytes.NewReader([]byte("%PDF-1.4\nnot really a pdf"))},
			code:  domain.CodeInvalidFileType,
		},
		{
			name:  "oversized stream",
			input: UploadInput{FileName: "huge.pdf", ContentType: "application/pdf", Size: -1, Body: bytes.NewReader(testutil.PDF(9 << 20))},
			code:  domain.CodeFileTooLarge,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.service.Upload(context.Background(), tc.input)
			var validationErr *domain.ValidationError
			if !errors.As(err, &validationErr) || validationErr.Code != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}

	if h.store.Len() != 0 {
		t.Fatalf("expected no jobs after rejected uploads, got %d", h.store.Len())
	}
	leftovers, _ := os.ReadDir(filepath.Join(h.dir, "uploads"))
	if len(leftovers) != 0 {
		t.Fatalf("expected no stored files, got %d", len(leftovers))
	}
}

func TestReleaseDownloadEvictsWhenEnabled(t *testing.T) {
	h := newHarness(t, conversion.Link{Strategy: &spyStrategy{name: "a"}})
	h.service.config.DeleteAfterDownload = true
	h.seedUser(t, "u1", domain.PlanBasic, 2)
	job := h.upload(t, 0)
	if _, err := h.service.StartConversion(context.Background(), job.ID, "u1", false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.service.Execute(context.Background(), h.producer.drain()[0]); err != nil {
		t.Fatalf("execute: %v", err)
	}
	download, err := h.service.OpenDownload(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("open download: %v", err)
	}

	h.service.ReleaseDownload(job.ID)
	if _, err := h.store.Get(job.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected job evicted, got %v", err)
	}
	if _, err := os.Stat(download.Path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected output removed, got %v", err)
	}
}

func TestAccountReportsPlanAndRemaining(t *testing.T) {
	h := newHarness(t, conversion.Link{Strategy: &spyStrategy{name: "a"}})
	h.seedUser(t, "u1", domain.PlanPro, 12)

	account, err := h.service.Account(context.Background(), "u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Plan != domain.PlanPro || account.ConversionsLeft != 12 || account.Allotment != 50 || account.Unlimited {
		t.Fatalf("unexpected account %+v", account)
	}
}
