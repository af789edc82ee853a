package quality

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutputRejected = errors.New("output failed quality checks")

var psdSignature = []byte("8BPS")

const (
	psdHeaderSize = 26
	psdVersion    = 1
)

// OutputReport describes a converted file that passed validation.
type OutputReport struct {
	Size   int64
	Width  int
	Height int
}

// ValidateOutput checks that a strategy produced a real file. Placeholder
// output below minBytes is rejected so the caller can fall back.
func ValidateOutput(path string, minBytes int64) (OutputReport, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return OutputReport{}, fmt.Errorf("%w: output file missing", ErrOutputRejected)
		}
		return OutputReport{}, fmt.Errorf("stat output: %w", err)
	}
	if info.IsDir() {
		return OutputReport{}, fmt.Errorf("%w: output is a directory", ErrOutputRejected)
	}
	if info.Size() == 0 {
		return OutputReport{}, fmt.Errorf("%w: output file is empty", ErrOutputRejected)
	}
	if minBytes > 0 && info.Size() < minBytes {
		return OutputReport{}, fmt.Errorf("%w: output is %d bytes, expected at least %d", ErrOutputRejected, info.Size(), minBytes)
	}

	report := OutputReport{Size: info.Size()}
	if !strings.EqualFold(filepath.Ext(path), ".psd") {
		return report, nil
	}

	width, height, err := readPSDHeader(path)
	if err != nil {
		return OutputReport{}, err
	}
	report.Width = width
	report.Height = height
	return report, nil
}

func readPSDHeader(path string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open output: %w", err)
	}
	defer file.Close()

	header := make([]byte, psdHeaderSize)
	if _, err := io.ReadFull(file, header); err != nil {
		return 0, 0, fmt.Errorf("%w: truncated psd header", ErrOutputRejected)
	}
	if string(header[:4]) != string(psdSignature) {
		return 0, 0, fmt.Errorf("%w: missing psd signature", ErrOutputRejected)
	}
	if version := binary.BigEndian.Uint16(header[4:6]); version != psdVersion {
		return 0, 0, fmt.Errorf("%w: unsupported psd version %d", ErrOutputRejected, version)
	}
	height := binary.BigEndian.Uint32(header[14:18])
	width := binary.BigEndian.Uint32(header[18:22])
	if width == 0 || height == 0 {
		return 0, 0, fmt.Errorf("%w: psd canvas is %dx%d", ErrOutputRejected, width, height)
	}
	return int(width), int(height), nil
}

// PSDHeader builds a minimal 8-bit RGB header for the given size.
func PSDHeader(width, height int) []byte {
	header := make([]byte, psdHeaderSize)
	copy(header, psdSignature)
	binary.BigEndian.PutUint16(header[4:6], psdVersion)
	binary.BigEndian.PutUint16(header[12:14], 3)
	binary.BigEndian.PutUint32(header[14:18], uint32(height))
	binary.BigEndian.PutUint32(header[18:22], uint32(width))
	binary.BigEndian.PutUint16(header[22:24], 8)
	binary.BigEndian.PutUint16(header[24:26], 3)
	return header
}
