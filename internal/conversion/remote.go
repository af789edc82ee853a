package conversion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/civchange/pdf2psd-back/internal/domain"
)

var ErrRemoteHTMLResponse = errors.New("remote converter returned html instead of psd")

type RemoteStrategyConfig struct {
	Name        string
	BaseURL     string
	ConvertPath string
	HealthPath  string
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	HTTPClient  *http.Client
}

// RemoteStrategy uploads the PDF to an HTTP conversion service and streams
// the returned PSD to disk.
type RemoteStrategy struct {
	name        string
	baseURL     string
	convertPath string
	healthPath  string
	timeout     time.Duration
	maxRetries  int
	retryDelay  time.Duration
	httpClient  *http.Client
}

func NewRemoteStrategy(config RemoteStrategyConfig) *RemoteStrategy {
	if strings.TrimSpace(config.Name) == "" {
		config.Name = "remote-api"
	}
	if strings.TrimSpace(config.ConvertPath) == "" {
		config.ConvertPath = "/convert"
	}
	if strings.TrimSpace(config.HealthPath) == "" {
		config.HealthPath = "/"
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 2 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &RemoteStrategy{
		name:        config.Name,
		baseURL:     strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		convertPath: config.ConvertPath,
		healthPath:  config.HealthPath,
		timeout:     config.Timeout,
		maxRetries:  config.MaxRetries,
		retryDelay:  config.RetryDelay,
		httpClient:  config.HTTPClient,
	}
}

// ExecBudget is the longest Convert can run: every attempt at its request
// timeout plus the linear backoff slept between attempts.
func (s *RemoteStrategy) ExecBudget() time.Duration {
	attempts := time.Duration(s.maxRetries + 1)
	backoffSteps := time.Duration(s.maxRetries * (s.maxRetries + 1) / 2)
	return s.timeout*attempts + s.retryDelay*backoffSteps
}

func (s *RemoteStrategy) Name() string {
	return s.name
}

func (s *RemoteStrategy) Available() bool {
	return s.baseURL != ""
}

// Init checks that the service answers before any upload is attempted.
func (s *RemoteStrategy) Init(ctx context.Context) error {
	if !s.Available() {
		return fmt.Errorf("%s: base url not configured", s.name)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+s.healthPath, nil)
	if err != nil {
		return fmt.Errorf("%s: create health request: %w", s.name, err)
	}
	response, err := s.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s: health check: %w", s.name, err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 64<<10))
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("%s: health check status %d", s.name, response.StatusCode)
	}
	return nil
}

func (s *RemoteStrategy) Convert(
	ctx context.Context,
	input string,
	output string,
	sink ProgressSink,
) (domain.ConversionResult, error) {
	sink.Report(10, "Preparing PDF for conversion...")

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		sink.Report(20, "Uploading PDF to conversion service...")
		size, callErr := s.callConvertAPI(ctx, input, output)
		if callErr == nil {
			sink.Report(90, "PSD downloaded, saving file...")
			return domain.ConversionResult{
				Success:    true,
				OutputPath: output,
				Size:       size,
				Strategy:   s.name,
			}, nil
		}
		lastErr = callErr

		if !isRetryableRemoteError(callErr) || attempt == s.maxRetries {
			break
		}

		backoff := s.retryDelay * time.Duration(attempt+1)
		select {
		case <-ctx.Done():
			return domain.ConversionResult{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if lastErr == nil {
		lastErr = errors.New("unknown remote converter error")
	}
	return domain.ConversionResult{}, fmt.Errorf("%s: %w", s.name, lastErr)
}

func (s *RemoteStrategy) callConvertAPI(ctx context.Context, input, output string) (int64, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	source, err := os.Open(input)
	if err != nil {
		return 0, fmt.Errorf("open input: %w", err)
	}
	defer source.Close()

	body, writer := io.Pipe()
	form := multipart.NewWriter(writer)
	go func() {
		writer.CloseWithError(writeConvertForm(form, source, filepath.Base(input)))
	}()

	request, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, s.baseURL+s.convertPath, body)
	if err != nil {
		body.Close()
		return 0, fmt.Errorf("create convert request: %w", err)
	}
	request.Header.Set("Content-Type", form.FormDataContentType())
	request.Header.Set("Accept", "image/vnd.adobe.photoshop, application/octet-stream")

	response, err := s.httpClient.Do(request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("remote converter timeout: %w", err)
		}
		return 0, fmt.Errorf("remote converter transport error: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		message, _ := io.ReadAll(io.LimitReader(response.Body, 4<<10))
		return 0, &remoteHTTPError{
			StatusCode: response.StatusCode,
			Message:    trimOutput(message),
		}
	}
	if isHTMLContent(response.Header.Get("Content-Type")) {
		return 0, ErrRemoteHTMLResponse
	}

	target, err := os.Create(output)
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}
	written, copyErr := io.Copy(target, response.Body)
	closeErr := target.Close()
	if copyErr != nil {
		_ = os.Remove(output)
		return 0, fmt.Errorf("read converted body: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(output)
		return 0, fmt.Errorf("close output: %w", closeErr)
	}
	return written, nil
}

func writeConvertForm(form *multipart.Writer, source io.Reader, fileName string) error {
	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, source); err != nil {
		return err
	}
	if err := form.WriteField("format", "psd"); err != nil {
		return err
	}
	if err := form.WriteField("quality", "100"); err != nil {
		return err
	}
	return form.Close()
}

func isHTMLContent(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/html")
	}
	return mediaType == "text/html"
}

type remoteHTTPError struct {
	StatusCode int
	Message    string
}

func (e *remoteHTTPError) Error() string {
	return fmt.Sprintf("remote converter status %d: %s", e.StatusCode, e.Message)
}

func isRetryableRemoteError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *remoteHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") || strings.Contains(message, "connection reset")
}
