package conversion

import (
	"errors"
	"fmt"
	"math"

	"github.com/ledongthuc/pdf"
)

var ErrUnreadablePDF = errors.New("unreadable pdf")

// PDFInfo is the document metadata the pipeline cares about.
type PDFInfo struct {
	Pages    int
	WidthPt  float64
	HeightPt float64
}

// PixelSize converts the first page size to pixels at the given density.
func (i PDFInfo) PixelSize(density int) (int, int) {
	if density <= 0 {
		return 0, 0
	}
	scale := float64(density) / 72
	return int(math.Round(i.WidthPt * scale)), int(math.Round(i.HeightPt * scale))
}

// Probe opens the PDF at path and reads its page count and first page size.
func Probe(path string) (info PDFInfo, err error) {
	defer func() {
		// the parser reports some malformed input by panicking
		if recovered := recover(); recovered != nil {
			info = PDFInfo{}
			err = fmt.Errorf("%w: %v", ErrUnreadablePDF, recovered)
		}
	}()

	file, reader, err := pdf.Open(path)
	if err != nil {
		return PDFInfo{}, fmt.Errorf("%w: %v", ErrUnreadablePDF, err)
	}
	defer file.Close()

	pages := reader.NumPage()
	if pages < 1 {
		return PDFInfo{}, fmt.Errorf("%w: document has no pages", ErrUnreadablePDF)
	}
	info.Pages = pages

	page := reader.Page(1)
	if page.V.IsNull() {
		return PDFInfo{}, fmt.Errorf("%w: first page not found", ErrUnreadablePDF)
	}
	box := inherited(page.V, "MediaBox")
	if box.Kind() == pdf.Array && box.Len() == 4 {
		info.WidthPt = math.Abs(box.Index(2).Float64() - box.Index(0).Float64())
		info.HeightPt = math.Abs(box.Index(3).Float64() - box.Index(1).Float64())
	}
	return info, nil
}

func inherited(value pdf.Value, key string) pdf.Value {
	for current := value; !current.IsNull(); current = current.Key("Parent") {
		if found := current.Key(key); !found.IsNull() {
			return found
		}
	}
	return pdf.Value{}
}
