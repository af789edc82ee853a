package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const frontendOrigin = "https://app.pdf2psd.io"

func corsRecorder(t *testing.T, cfg CORSConfig, request *http.Request) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder, reached
}

func TestCORSPreflightForUploadWithBearer(t *testing.T) {
	request := httptest.NewRequest(http.MethodOptions, "/api/convert", nil)
	request.Header.Set("Origin", frontendOrigin)
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "authorization,content-type")

	recorder, reached := corsRecorder(t, CORSConfig{AllowedOrigins: []string{frontendOrigin}}, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if reached {
		t.Fatalf("expected preflight to be answered by the middleware")
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != frontendOrigin {
		t.Fatalf("expected allow origin %q, got %q", frontendOrigin, got)
	}
	allowHeaders := strings.ToLower(recorder.Header().Get("Access-Control-Allow-Headers"))
	for _, header := range []string{"authorization", "content-type", "range"} {
		if !strings.Contains(allowHeaders, header) {
			t.Fatalf("expected %s in allow headers, got %q", header, allowHeaders)
		}
	}
	if got := recorder.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Fatalf("expected default max age 600, got %q", got)
	}
}

func TestCORSPreflightWithUnlistedMethodGetsNoGrant(t *testing.T) {
	request := httptest.NewRequest(http.MethodOptions, "/api/job/abc", nil)
	request.Header.Set("Origin", frontendOrigin)
	request.Header.Set("Access-Control-Request-Method", http.MethodDelete)

	recorder, _ := corsRecorder(t, CORSConfig{AllowedOrigins: []string{frontendOrigin}}, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Methods"); got != "" {
		t.Fatalf("expected no allow methods for DELETE, got %q", got)
	}
}

func TestCORSExposesDownloadHeaders(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expose   []string
		withheld []string
	}{
		{
			name:   "download",
			path:   "/api/download/job-1",
			expose: []string{"Content-Disposition", "Content-Length", "Content-Range", "X-Request-Id"},
		},
		{
			name:     "job status",
			path:     "/api/job/job-1",
			expose:   []string{"X-Request-Id"},
			withheld: []string{"Content-Disposition"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, tt.path, nil)
			request.Header.Set("Origin", frontendOrigin)

			recorder, reached := corsRecorder(t, CORSConfig{AllowedOrigins: []string{frontendOrigin}}, request)

			if !reached || recorder.Code != http.StatusOK {
				t.Fatalf("expected request to reach handler, got %d", recorder.Code)
			}
			exposed := recorder.Header().Get("Access-Control-Expose-Headers")
			for _, header := range tt.expose {
				if !strings.Contains(exposed, header) {
					t.Fatalf("expected %s exposed, got %q", header, exposed)
				}
			}
			for _, header := range tt.withheld {
				if strings.Contains(exposed, header) {
					t.Fatalf("expected %s not exposed, got %q", header, exposed)
				}
			}
		})
	}
}

func TestCORSOriginMatching(t *testing.T) {
	allowed := []string{frontendOrigin, "https://*.preview.pdf2psd.io"}
	tests := []struct {
		origin string
		want   bool
	}{
		{origin: frontendOrigin, want: true},
		{origin: "https://pr-42.preview.pdf2psd.io", want: true},
		{origin: "https://PR-42.Preview.pdf2psd.io", want: true},
		{origin: "https://preview.pdf2psd.io", want: false},
		{origin: "http://pr-42.preview.pdf2psd.io", want: false},
		{origin: "https://evil-preview.pdf2psd.io", want: false},
		{origin: "https://evil.example", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodOptions, "/api/upload", nil)
			request.Header.Set("Origin", tt.origin)
			request.Header.Set("Access-Control-Request-Method", http.MethodPost)

			recorder, reached := corsRecorder(t, CORSConfig{AllowedOrigins: allowed}, request)

			granted := recorder.Header().Get("Access-Control-Allow-Origin") == tt.origin
			if granted != tt.want {
				t.Fatalf("expected granted=%v for %s, got %v", tt.want, tt.origin, granted)
			}
			if reached == tt.want {
				t.Fatalf("expected handler reached=%v for %s", !tt.want, tt.origin)
			}
		})
	}
}

func TestCORSWildcardAnswersStar(t *testing.T) {
	request := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
	request.Header.Set("Origin", "https://anything.example")

	recorder, _ := corsRecorder(t, CORSConfig{AllowedOrigins: []string{"*"}}, request)

	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected *, got %q", got)
	}
}
