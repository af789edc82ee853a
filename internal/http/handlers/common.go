package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/civchange/pdf2psd-back/internal/domain"
	"github.com/civchange/pdf2psd-back/internal/http/middleware"
	"github.com/civchange/pdf2psd-back/internal/service"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errInvalidPayload = errors.New("invalid payload")

// multipartOverhead is the slack allowed on top of the upload limit for
// multipart boundaries and part headers.
const multipartOverhead = 1 << 20

type API struct {
	conversions *service.ConversionService
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

func NewAPI(conversions *service.ConversionService, allowedOrigins []string, logger zerolog.Logger) *API {
	return &API{
		conversions: conversions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.With().Str("component", "http").Logger(),
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// quotaErrorPayload carries the plan details the client needs to pick an upsell.
type quotaErrorPayload struct {
	errorPayload
	Plan            domain.Plan `json:"plan"`
	ConversionsLeft int         `json:"conversionsLeft"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps service and domain errors onto the HTTP contract.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *domain.ValidationError
		notFoundErr   *domain.NotFoundError
		quotaErr      *domain.QuotaError
		conflictErr   *domain.ConflictError
		conversionErr *domain.ConversionError
	)
	switch {
	case errors.As(err, &validationErr):
		writeError(w, r, http.StatusBadRequest, validationErr.Code, validationErr.Message)
	case errors.As(err, &notFoundErr):
		writeError(w, r, http.StatusNotFound, "not_found", notFoundErr.Error())
	case errors.As(err, &quotaErr):
		payload := quotaErrorPayload{
			errorPayload:    errorPayload{RequestID: middleware.GetRequestID(r.Context())},
			Plan:            quotaErr.Plan,
			ConversionsLeft: quotaErr.Remaining,
		}
		payload.Error.Code = string(quotaErr.Reason)
		payload.Error.Message = quotaErr.Error()
		writeJSON(w, http.StatusForbidden, payload)
	case errors.As(err, &conflictErr):
		writeError(w, r, http.StatusConflict, "invalid_state", conflictErr.Error())
	case errors.As(err, &conversionErr):
		writeError(w, r, http.StatusInternalServerError, "conversion_failed", conversionErr.Error())
	default:
		api.logger.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("unhandled request error")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "not_found", "route not found")
}

func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}
