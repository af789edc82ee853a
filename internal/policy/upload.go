package policy

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/civchange/pdf2psd-back/internal/domain"
)

const (
	DefaultMaxUploadBytes int64 = 100 << 20
	pdfContentType              = "application/pdf"
	pdfExtension                = ".pdf"
)

// UploadCandidate is what the client claims about an uploaded file.
type UploadCandidate struct {
	FileName    string
	ContentType string
	Size        int64
}

// ValidateUpload accepts only files that declare a PDF content type and
// carry a .pdf extension. Size is checked against maxBytes when known.
func ValidateUpload(candidate UploadCandidate, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if strings.TrimSpace(candidate.FileName) == "" {
		return domain.NewValidationError(domain.CodeMissingFile, "no file uploaded")
	}
	if !isPDFContentType(candidate.ContentType) || !strings.EqualFold(filepath.Ext(candidate.FileName), pdfExtension) {
		return domain.NewValidationError(domain.CodeInvalidFileType, "only PDF files are allowed")
	}
	if candidate.Size == 0 {
		return domain.NewValidationError(domain.CodeMissingFile, "uploaded file is empty")
	}
	if candidate.Size > maxBytes {
		return TooLarge(maxBytes)
	}
	return nil
}

func TooLarge(maxBytes int64) *domain.ValidationError {
	return domain.NewValidationError(
		domain.CodeFileTooLarge,
		fmt.Sprintf("file exceeds the %d MB upload limit", maxBytes>>20),
	)
}

func isPDFContentType(value string) bool {
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	return strings.EqualFold(mediaType, pdfContentType)
}
