package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/civchange/pdf2psd-back/internal/conversion"
	"github.com/civchange/pdf2psd-back/internal/domain"
	httpserver "github.com/civchange/pdf2psd-back/internal/http"
	"github.com/civchange/pdf2psd-back/internal/http/handlers"
	"github.com/civchange/pdf2psd-back/internal/http/middleware"
	"github.com/civchange/pdf2psd-back/internal/logger"
	"github.com/civchange/pdf2psd-back/internal/progress"
	"github.com/civchange/pdf2psd-back/internal/quality"
	"github.com/civchange/pdf2psd-back/internal/queue"
	"github.com/civchange/pdf2psd-back/internal/quota"
	"github.com/civchange/pdf2psd-back/internal/repository"
	"github.com/civchange/pdf2psd-back/internal/service"
	"github.com/civchange/pdf2psd-back/internal/testutil"
	"github.com/civchange/pdf2psd-back/internal/worker"
	"github.com/rs/zerolog"
)

const (
	benchSecret = "loadgen-secret"
	benchUserID = "loadgen-enterprise"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	PDFBytes       int              `json:"pdf_bytes"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server *httptest.Server
	token  string
	cancel func()
}

// syntheticStrategy stands in for a real renderer so the benchmark measures
// the pipeline rather than ImageMagick.
type syntheticStrategy struct {
	delay time.Duration
}

func (syntheticStrategy) Name() string { return "synthetic" }

func (syntheticStrategy) Init(context.Context) error { return nil }

func (s syntheticStrategy) Convert(ctx context.Context, _ string, output string, sink conversion.ProgressSink) (domain.ConversionResult, error) {
	for _, step := range []int{25, 50, 75} {
		select {
		case <-ctx.Done():
			return domain.ConversionResult{}, ctx.Err()
		case <-time.After(s.delay / 3):
		}
		sink.Report(step, "rendering")
	}
	payload := append(quality.PSDHeader(1240, 1754), bytes.Repeat([]byte{0}, 8192)...)
	if err := os.WriteFile(output, payload, 0o600); err != nil {
		return domain.ConversionResult{}, err
	}
	return domain.ConversionResult{Success: true, OutputPath: output, Strategy: "synthetic"}, nil
}

func main() {
	uploadsTotal := flag.Int("uploads-total", 120, "total upload requests")
	uploadsConcurrency := flag.Int("uploads-concurrency", 16, "concurrency for upload requests")
	conversionsTotal := flag.Int("conversions-total", 60, "total upload+convert+poll round trips")
	conversionsConcurrency := flag.Int("conversions-concurrency", 12, "concurrency for conversion round trips")
	statusTotal := flag.Int("status-total", 400, "total job status requests")
	statusConcurrency := flag.Int("status-concurrency", 32, "concurrency for job status requests")
	pdfBytes := flag.Int("pdf-bytes", 2<<20, "size of generated PDF uploads")
	renderDelay := flag.Duration("render-delay", 150*time.Millisecond, "synthetic strategy render time")
	workers := flag.Int("workers", 4, "conversion worker concurrency")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	log := logger.New("production")

	env, err := startBenchmarkEnvironment(*workers, *renderDelay)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start local benchmark environment")
	}
	defer env.cancel()

	client := &http.Client{Timeout: 30 * time.Second}
	pdf := testutil.PDF(*pdfBytes)

	uploadsScenario := runScenario("upload", *uploadsTotal, *uploadsConcurrency, func(int) error {
		_, err := upload(client, env.server.URL, pdf)
		return err
	})

	conversionsScenario := runScenario("upload_convert_complete", *conversionsTotal, *conversionsConcurrency, func(int) error {
		jobID, err := upload(client, env.server.URL, pdf)
		if err != nil {
			return err
		}
		payload := map[string]any{"jobId": jobID}
		headers := map[string]string{"Authorization": "Bearer " + env.token}
		if err := postJSON(client, env.server.URL+"/api/convert", payload, headers, http.StatusAccepted); err != nil {
			return err
		}
		return waitForCompletion(client, env.server.URL, jobID, 30*time.Second)
	})

	statusJobID, err := upload(client, env.server.URL, pdf)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to seed status job")
	}
	statusScenario := runScenario("job_status", *statusTotal, *statusConcurrency, func(int) error {
		_, err := getJobStatus(client, env.server.URL, statusJobID)
		return err
	})

	results := []scenarioResult{uploadsScenario, conversionsScenario, statusScenario}
	slo := map[string]bool{
		"upload_p95_le_2000ms":  uploadsScenario.P95MS <= 2000,
		"status_p95_le_100ms":   statusScenario.P95MS <= 100,
		"conversions_no_errors": conversionsScenario.Errors == 0,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		PDFBytes:       len(pdf),
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to marshal benchmark report")
	}
	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatal().Err(err).Msg("failed to write output file")
		}
	}
	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment(workers int, renderDelay time.Duration) (*benchmarkEnv, error) {
	ctx, cancel := context.WithCancel(context.Background())
	nop := zerolog.Nop()

	dir, err := os.MkdirTemp("", "pdf2psd-loadgen-")
	if err != nil {
		cancel()
		return nil, err
	}

	users := repository.NewMemoryUsersRepository()
	if err := users.SaveUser(ctx, &domain.User{ID: benchUserID, Plan: domain.PlanEnterprise}); err != nil {
		cancel()
		return nil, err
	}
	token, err := middleware.SignJWT(benchSecret, middleware.NewTokenClaims(benchUserID, time.Now(), 24*time.Hour))
	if err != nil {
		cancel()
		return nil, err
	}

	store := repository.NewJobStore()
	localQueue := queue.NewLocalQueue(4096, nop)
	chain := conversion.NewChain(nop, conversion.Link{
		Strategy:       syntheticStrategy{delay: renderDelay},
		InitTimeout:    time.Second,
		ExecTimeout:    time.Minute,
		HighFidelity:   true,
		MinOutputBytes: 1024,
	})
	conversions := service.NewConversionService(
		store,
		quota.NewGate(users),
		chain,
		progress.NewLocalBroadcaster(nop),
		localQueue,
		service.ConversionServiceConfig{
			UploadDir: filepath.Join(dir, "uploads"),
			OutputDir: filepath.Join(dir, "outputs"),
		},
		nop,
	)
	router := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            handlers.NewAPI(conversions, []string{"*"}, nop),
		Logger:         nop,
		JWTSecret:      benchSecret,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	processor := worker.NewProcessor(localQueue, conversions, workers, nop)
	go processor.Start(ctx)

	server := httptest.NewServer(router)
	return &benchmarkEnv{
		server: server,
		token:  token,
		cancel: func() {
			cancel()
			server.Close()
			_ = os.RemoveAll(dir)
		},
	}, nil
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func upload(client *http.Client, baseURL string, pdf []byte) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="pdf"; filename="load.pdf"`)
	header.Set("Content-Type", "application/pdf")
	part, err := form.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(pdf); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	request, err := http.NewRequest(http.MethodPost, baseURL+"/api/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", form.FormDataContentType())

	var body struct {
		JobID string `json:"jobId"`
	}
	if err := doJSON(client, request, http.StatusOK, &body); err != nil {
		return "", err
	}
	return body.JobID, nil
}

func getJobStatus(client *http.Client, baseURL, jobID string) (domain.JobStatus, error) {
	request, err := http.NewRequest(http.MethodGet, baseURL+"/api/job/"+jobID, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	var view domain.JobView
	if err := doJSON(client, request, http.StatusOK, &view); err != nil {
		return "", err
	}
	return view.Status, nil
}

func waitForCompletion(client *http.Client, baseURL, jobID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, err := getJobStatus(client, baseURL, jobID)
		if err != nil {
			return err
		}
		switch status {
		case domain.JobStatusCompleted:
			return nil
		case domain.JobStatusError:
			return fmt.Errorf("job %s failed", jobID)
		}
		time.Sleep(25 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for job %s", jobID)
}

func postJSON(
	client *http.Client,
	url string,
	payload any,
	headers map[string]string,
	expectedStatus int,
) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	return doJSON(client, request, expectedStatus, nil)
}

func doJSON(client *http.Client, request *http.Request, expectedStatus int, target any) error {
	request.Header.Set("Accept", "application/json")
	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	if target == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	return json.NewDecoder(response.Body).Decode(target)
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
