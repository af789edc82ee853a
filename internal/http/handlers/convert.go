package handlers

import (
	"net/http"
	"strings"

	"github.com/civchange/pdf2psd-back/internal/domain"
	"github.com/civchange/pdf2psd-back/internal/http/middleware"
)

type convertRequest struct {
	JobID    string `json:"jobId"`
	Enhanced bool   `json:"enhanced,omitempty"`
}

type convertResponse struct {
	JobID   string           `json:"jobId"`
	Status  domain.JobStatus `json:"status"`
	Message string           `json:"message"`
}

func (api *API) Convert(w http.ResponseWriter, r *http.Request) {
	var request convertRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, domain.CodeInvalidRequest, "invalid payload")
		return
	}
	request.JobID = strings.TrimSpace(request.JobID)
	if request.JobID == "" {
		writeError(w, r, http.StatusBadRequest, domain.CodeInvalidRequest, "jobId is required")
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	job, err := api.conversions.StartConversion(r.Context(), request.JobID, userID, request.Enhanced)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, convertResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Conversion started",
	})
}
