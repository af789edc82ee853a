package quality

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func padded(header []byte) []byte {
	return append(header, bytes.Repeat([]byte{0xff}, 2048)...)
}

func psdWithVersion(version uint16) []byte {
	content := padded(PSDHeader(640, 480))
	binary.BigEndian.PutUint16(content[4:6], version)
	return content
}

func TestValidateOutputAcceptsPSD(t *testing.T) {
	content := append(PSDHeader(640, 480), bytes.Repeat([]byte{0xff}, 2048)...)
	path := writeFile(t, "out.psd", content)

	report, err := ValidateOutput(path, 1024)
	if err != nil {
		t.Fatalf("expected valid output, got %v", err)
	}
	if report.Width != 640 || report.Height != 480 {
		t.Fatalf("expected 640x480, got %dx%d", report.Width, report.Height)
	}
	if report.Size != int64(len(content)) {
		t.Fatalf("expected size %d, got %d", len(content), report.Size)
	}
}

func TestValidateOutputRejects(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name     string
		file     string
		content  []byte
		minBytes int64
	}{
		{name: "missing", file: "missing.psd"},
		{name: "empty", file: "empty.psd", content: []byte{}},
		{name: "undersized placeholder", file: "small.psd", content: PSDHeader(800, 600), minBytes: 4096},
		{name: "wrong signature", file: "bad.psd", content: bytes.Repeat([]byte("x"), 64)},
		{name: "large document version", file: "psb.psd", content: psdWithVersion(2)},
		{name: "unknown version", file: "v0.psd", content: psdWithVersion(0)},
		{name: "zero width", file: "narrow.psd", content: padded(PSDHeader(0, 480))},
		{name: "zero height", file: "flat.psd", content: padded(PSDHeader(640, 0))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.file)
			if tc.content != nil {
				if err := os.WriteFile(path, tc.content, 0o600); err != nil {
					t.Fatalf("write fixture: %v", err)
				}
			}
			_, err := ValidateOutput(path, tc.minBytes)
			if !errors.Is(err, ErrOutputRejected) {
				t.Fatalf("expected rejection, got %v", err)
			}
		})
	}
}

func TestValidateOutputSkipsSignatureForOtherFormats(t *testing.T) {
	path := writeFile(t, "out.png", bytes.Repeat([]byte("p"), 32))
	if _, err := ValidateOutput(path, 0); err != nil {
		t.Fatalf("expected non-psd output to pass, got %v", err)
	}
}
