package handlers

import (
	"fmt"
	"net/http"
	"os"

	"github.com/civchange/pdf2psd-back/internal/http/middleware"
	"github.com/go-chi/chi/v5"
)

const psdContentType = "image/vnd.adobe.photoshop"

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	view, err := api.conversions.Status(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Download streams the finished PSD. The job is released afterwards when
// post-download cleanup is enabled.
func (api *API) Download(w http.ResponseWriter, r *http.Request) {
	download, err := api.conversions.OpenDownload(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	file, err := os.Open(download.Path)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", psdContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.FileName))
	http.ServeContent(w, r, download.FileName, info.ModTime(), file)

	if r.Method == http.MethodGet && r.Header.Get("Range") == "" {
		api.conversions.ReleaseDownload(download.JobID)
	}
}

func (api *API) Account(w http.ResponseWriter, r *http.Request) {
	account, err := api.conversions.Account(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}
