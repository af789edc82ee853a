package policy

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	repeatedDashes  = regexp.MustCompile(`-{2,}`)
)

const maxStoredNameLength = 80

// SanitizeFileName reduces a client supplied name to a safe base name that
// can be joined onto a storage directory.
func SanitizeFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	cleaned := unsafeNameChars.ReplaceAllString(base, "-")
	cleaned = repeatedDashes.ReplaceAllString(cleaned, "-")
	cleaned = strings.Trim(cleaned, "-.")
	if cleaned == "" {
		return "upload"
	}
	if len(cleaned) > maxStoredNameLength {
		ext := filepath.Ext(cleaned)
		cleaned = cleaned[:maxStoredNameLength-len(ext)] + ext
	}
	return cleaned
}

// DownloadName is the attachment name offered for a converted file.
func DownloadName(originalName string) string {
	sanitized := SanitizeFileName(originalName)
	base := strings.TrimSuffix(sanitized, filepath.Ext(sanitized))
	if strings.TrimSpace(originalName) == "" || base == "" {
		base = "converted"
	}
	return base + ".psd"
}
