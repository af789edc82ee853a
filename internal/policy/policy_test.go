package policy

import (
	"errors"
	"strings"
	"testing"

	"github.com/civchange/pdf2psd-back/internal/domain"
)

func TestValidateUpload(t *testing.T) {
	cases := []struct {
		name      string
		candidate UploadCandidate
		code      string
	}{
		{name: "valid", candidate: UploadCandidate{FileName: "poster.pdf", ContentType: "application/pdf", Size: 2 << 20}},
		{name: "uppercase extension", candidate: UploadCandidate{FileName: "POSTER.PDF", ContentType: "application/pdf; charset=binary", Size: 10}},
		{name: "missing name", candidate: UploadCandidate{ContentType: "application/pdf", Size: 10}, code: domain.CodeMissingFile},
		{name: "wrong extension", candidate: UploadCandidate{FileName: "poster.png", ContentType: "application/pdf", Size: 10}, code: domain.CodeInvalidFileType},
		{name: "wrong content type", candidate: UploadCandidate{FileName: "poster.pdf", ContentType: "image/png", Size: 10}, code: domain.CodeInvalidFileType},
		{name: "empty", candidate: UploadCandidate{FileName: "poster.pdf", ContentType: "application/pdf"}, code: domain.CodeMissingFile},
		{name: "too large", candidate: UploadCandidate{FileName: "poster.pdf", ContentType: "application/pdf", Size: DefaultMaxUploadBytes + 1}, code: domain.CodeFileTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateUpload(tc.candidate, 0)
			if tc.code == "" {
				if err != nil {
					t.Fatalf("expected upload to be accepted, got %v", err)
				}
				return
			}
			var validationErr *domain.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if validationErr.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, validationErr.Code)
			}
		})
	}
}

func TestSanitizeFileNameStripsPaths(t *testing.T) {
	cases := map[string]string{
		"../../etc/passwd.pdf":       "passwd.pdf",
		`C:\Users\me\My File (1).pdf`: "My-File-1-.pdf",
		"":                           "upload",
		"...":                        "upload",
		"relatório final.pdf":        "relat-rio-final.pdf",
	}
	for input, expected := range cases {
		if got := SanitizeFileName(input); got != expected {
			t.Fatalf("SanitizeFileName(%q): expected %q, got %q", input, expected, got)
		}
	}

	long := SanitizeFileName(strings.Repeat("a", 200) + ".pdf")
	if len(long) != maxStoredNameLength || !strings.HasSuffix(long, ".pdf") {
		t.Fatalf("expected truncated name keeping extension, got %q", long)
	}
}

func TestDownloadName(t *testing.T) {
	if got := DownloadName("brochure.pdf"); got != "brochure.psd" {
		t.Fatalf("expected brochure.psd, got %s", got)
	}
	if got := DownloadName(""); got != "converted.psd" {
		t.Fatalf("expected converted.psd, got %s", got)
	}
}
