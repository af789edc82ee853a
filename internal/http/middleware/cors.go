package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultCORSMaxAgeSeconds = 600
	downloadPathPrefix       = "/api/download/"
)

var (
	defaultCORSAllowedMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
	}
	// Range lets the browser resume a PSD download; ServeContent answers it.
	defaultCORSAllowedHeaders = []string{
		"Accept",
		"Authorization",
		"Content-Type",
		"Range",
		"X-Request-Id",
	}
	apiExposedHeaders      = []string{RequestIDHeader}
	downloadExposedHeaders = []string{
		"Accept-Ranges",
		"Content-Disposition",
		"Content-Length",
		"Content-Range",
		RequestIDHeader,
	}
)

// CORSConfig lists the frontends allowed to call the API. An origin of the
// form https://*.example.com matches any subdomain of example.com over https.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAgeSeconds  int
}

type originMatcher struct {
	any      bool
	exact    []string
	suffixes []wildcardOrigin
}

type wildcardOrigin struct {
	scheme string
	suffix string
}

func newOriginMatcher(origins []string) originMatcher {
	var matcher originMatcher
	for _, origin := range normalizeStringList(origins) {
		if origin == "*" {
			matcher.any = true
			continue
		}
		scheme, host, ok := strings.Cut(origin, "://*.")
		if ok && host != "" {
			matcher.suffixes = append(matcher.suffixes, wildcardOrigin{
				scheme: strings.ToLower(scheme) + "://",
				suffix: "." + strings.ToLower(strings.TrimSuffix(host, "/")),
			})
			continue
		}
		matcher.exact = append(matcher.exact, strings.TrimSuffix(origin, "/"))
	}
	return matcher
}

func (m originMatcher) allows(origin string) bool {
	if m.any || containsFold(m.exact, origin) {
		return true
	}
	lowered := strings.ToLower(origin)
	for _, wildcard := range m.suffixes {
		host, ok := strings.CutPrefix(lowered, wildcard.scheme)
		if ok && len(host) > len(wildcard.suffix) && strings.HasSuffix(host, wildcard.suffix) {
			return true
		}
	}
	return false
}

func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	origins := newOriginMatcher(cfg.AllowedOrigins)

	allowedMethods := normalizeStringList(cfg.AllowedMethods)
	if len(allowedMethods) == 0 {
		allowedMethods = append([]string(nil), defaultCORSAllowedMethods...)
	}
	allowedHeaders := normalizeStringList(cfg.AllowedHeaders)
	if len(allowedHeaders) == 0 {
		allowedHeaders = append([]string(nil), defaultCORSAllowedHeaders...)
	}

	maxAgeSeconds := cfg.MaxAgeSeconds
	if maxAgeSeconds <= 0 {
		maxAgeSeconds = defaultCORSMaxAgeSeconds
	}

	allowMethodsValue := strings.Join(allowedMethods, ", ")
	allowHeadersValue := strings.Join(allowedHeaders, ", ")
	maxAgeValue := strconv.Itoa(maxAgeSeconds)
	apiExposeValue := strings.Join(apiExposedHeaders, ", ")
	downloadExposeValue := strings.Join(downloadExposedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || !origins.allows(origin) {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			if origins.any {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}

			if r.Method == http.MethodOptions {
				w.Header().Add("Vary", "Access-Control-Request-Method")
				w.Header().Add("Vary", "Access-Control-Request-Headers")
				requested := strings.TrimSpace(r.Header.Get("Access-Control-Request-Method"))
				if requested != "" && !containsFold(allowedMethods, requested) {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				w.Header().Set("Access-Control-Allow-Methods", allowMethodsValue)
				w.Header().Set("Access-Control-Allow-Headers", allowHeadersValue)
				w.Header().Set("Access-Control-Max-Age", maxAgeValue)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if strings.HasPrefix(r.URL.Path, downloadPathPrefix) {
				w.Header().Set("Access-Control-Expose-Headers", downloadExposeValue)
			} else {
				w.Header().Set("Access-Control-Expose-Headers", apiExposeValue)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizeStringList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		result = append(result, value)
	}
	return result
}

func containsFold(values []string, target string) bool {
	for _, value := range values {
		if strings.EqualFold(value, target) {
			return true
		}
	}
	return false
}
