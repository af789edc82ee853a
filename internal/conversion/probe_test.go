package conversion

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/civchange/pdf2psd-back/internal/testutil"
)

func TestProbeReadsPagesAndInheritedMediaBox(t *testing.T) {
	path := testutil.WritePDF(t, t.TempDir(), "doc.pdf", 2<<20)

	info, err := Probe(path)
	if err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if info.Pages != 1 {
		t.Fatalf("expected 1 page, got %d", info.Pages)
	}
	if info.WidthPt != 595 || info.HeightPt != 842 {
		t.Fatalf("expected A4 media box, got %.0fx%.0f", info.WidthPt, info.HeightPt)
	}
	width, height := info.PixelSize(300)
	if width != 2479 || height != 3508 {
		t.Fatalf("expected 2479x3508 at 300dpi, got %dx%d", width, height)
	}
}

func TestProbeRejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.pdf")
	if err := os.WriteFile(path, []byte("PK\x03\x04 this is a zip archive, not a pdf document at all"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Probe(path); !errors.Is(err, ErrUnreadablePDF) {
		t.Fatalf("expected unreadable pdf, got %v", err)
	}
}
