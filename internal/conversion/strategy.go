package conversion

import (
	"context"

	"github.com/civchange/pdf2psd-back/internal/domain"
)

// ProgressSink receives percent-complete reports from a running strategy.
type ProgressSink interface {
	Report(percent int, message string)
}

type ProgressFunc func(percent int, message string)

func (f ProgressFunc) Report(percent int, message string) {
	f(percent, message)
}

// Strategy is one way of turning a PDF into a PSD. Implementations wrap an
// external engine and must honour ctx cancellation where the engine allows.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	Convert(ctx context.Context, input, output string, sink ProgressSink) (domain.ConversionResult, error)
}

var discardProgress = ProgressFunc(func(int, string) {})
