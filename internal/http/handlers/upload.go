package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/civchange/pdf2psd-back/internal/domain"
	"github.com/civchange/pdf2psd-back/internal/policy"
	"github.com/civchange/pdf2psd-back/internal/service"
)

const uploadFieldName = "pdf"

type uploadResponse struct {
	JobID    string `json:"jobId"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	Message  string `json:"message"`
}

// Upload streams the "pdf" multipart field to disk without buffering the
// whole request in memory.
func (api *API) Upload(w http.ResponseWriter, r *http.Request) {
	maxBytes := api.conversions.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, domain.CodeMissingFile, "expected a multipart upload with a pdf field")
		return
	}

	part, err := nextFilePart(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.writeServiceError(w, r, policy.TooLarge(maxBytes))
			return
		}
		writeError(w, r, http.StatusBadRequest, domain.CodeMissingFile, "no file uploaded")
		return
	}
	defer part.Close()

	job, err := api.conversions.Upload(r.Context(), service.UploadInput{
		FileName:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Size:        -1,
		Body:        part,
	})
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = policy.TooLarge(maxBytes)
		}
		api.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		JobID:    job.ID,
		FileName: job.OriginalFileName,
		FileSize: job.FileSize,
		Message:  job.Message,
	})
}

func nextFilePart(reader *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := reader.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errMissingFilePart
			}
			return nil, err
		}
		if part.FormName() == uploadFieldName && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

var errMissingFilePart = errors.New("missing pdf file part")
