// Package testutil builds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// PDF returns a single page, A4 sized document padded with comment lines so
// that it is larger than minSize bytes.
func PDF(minSize int) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	padding := []byte("% padding padding padding padding padding padding padding padding\n")
	for buf.Len() < minSize {
		buf.Write(padding)
	}

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 595 842] >>",
		"<< /Type /Page /Parent 2 0 R >>",
	}
	offsets := make([]int, len(objects))
	for i, object := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, object)
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, offset := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefOffset)
	return buf.Bytes()
}

// WritePDF stores a generated document under dir and returns its path.
func WritePDF(t testing.TB, dir, name string, minSize int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, PDF(minSize), 0o600); err != nil {
		t.Fatalf("write pdf fixture: %v", err)
	}
	return path
}
