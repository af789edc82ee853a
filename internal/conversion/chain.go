package conversion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/civchange/pdf2psd-back/internal/domain"
	"github.com/civchange/pdf2psd-back/internal/quality"
	"github.com/rs/zerolog"
)

// Link is one strategy in a chain together with its limits.
type Link struct {
	Strategy       Strategy
	InitTimeout    time.Duration
	ExecTimeout    time.Duration
	HighFidelity   bool
	MinOutputBytes int64
}

// Chain tries its links in order until one produces valid output.
type Chain struct {
	links  []Link
	logger zerolog.Logger
}

func NewChain(logger zerolog.Logger, links ...Link) *Chain {
	return &Chain{
		links:  append([]Link(nil), links...),
		logger: logger.With().Str("component", "conversion_chain").Logger(),
	}
}

func (c *Chain) Len() int {
	return len(c.links)
}

func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.links))
	for _, link := range c.links {
		names = append(names, link.Strategy.Name())
	}
	return names
}

// Select returns the chain to use for a request. Enhanced requests only run
// high fidelity links.
func (c *Chain) Select(enhanced bool) (*Chain, error) {
	if !enhanced {
		return c, nil
	}
	subset := make([]Link, 0, len(c.links))
	for _, link := range c.links {
		if link.HighFidelity {
			subset = append(subset, link)
		}
	}
	if len(subset) == 0 {
		return nil, domain.NewValidationError(domain.CodeEnhancedUnavailable, "enhanced conversion unavailable")
	}
	return &Chain{links: subset, logger: c.logger}, nil
}

// Run converts input into output, falling back through the links. Progress
// reported to sink never decreases. When every link fails the returned error
// is a *domain.ConversionError wrapping the last failure.
func (c *Chain) Run(ctx context.Context, input, output string, sink ProgressSink) (domain.ConversionResult, error) {
	if sink == nil {
		sink = discardProgress
	}
	if len(c.links) == 0 {
		return domain.ConversionResult{}, &domain.ConversionError{}
	}

	info, probeErr := Probe(input)
	if probeErr != nil {
		c.logger.Warn().Err(probeErr).Str("input", filepath.Base(input)).Msg("pdf probe failed")
	}

	guard := &monotonicSink{sink: sink}
	total := len(c.links)
	attempts := 0
	var lastErr error

	for i, link := range c.links {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		name := link.Strategy.Name()
		window := guard.window(i*100/total, (i+1)*100/total)
		if i > 0 {
			window.emit(0, fmt.Sprintf("%s failed, falling back to %s", c.links[i-1].Strategy.Name(), name))
		}

		attempts++
		attemptPath := attemptOutputPath(output, i)
		result, err := c.attempt(ctx, link, input, attemptPath, window)
		window.close()
		if err == nil {
			err = os.Rename(attemptPath, output)
		}
		if err == nil {
			result = finalizeResult(result, name, output, info)
			guard.finish(100, "Conversion completed successfully")
			c.logger.Info().
				Str("strategy", name).
				Int("attempt", attempts).
				Int64("size", result.Size).
				Msg("conversion succeeded")
			return result, nil
		}

		lastErr = err
		event := c.logger.Warn().Err(err).Str("strategy", name).Int("attempt", attempts)
		var timeoutErr *domain.TimeoutError
		if errors.As(err, &timeoutErr) {
			event.Str("phase", timeoutErr.Phase).Dur("limit", timeoutErr.Limit).Msg("conversion strategy timed out")
		} else {
			event.Msg("conversion strategy failed")
		}
		removePartial(c.logger, attemptPath)
	}

	return domain.ConversionResult{}, &domain.ConversionError{Attempts: attempts, Last: lastErr}
}

func (c *Chain) attempt(ctx context.Context, link Link, input, output string, sink ProgressSink) (domain.ConversionResult, error) {
	name := link.Strategy.Name()

	if _, err := runPhase(ctx, link.InitTimeout, name, "init", func(phaseCtx context.Context) (struct{}, error) {
		return struct{}{}, link.Strategy.Init(phaseCtx)
	}, nil); err != nil {
		return domain.ConversionResult{}, err
	}

	result, err := runPhase(ctx, link.ExecTimeout, name, "execute", func(phaseCtx context.Context) (domain.ConversionResult, error) {
		return link.Strategy.Convert(phaseCtx, input, output, sink)
	}, func() {
		removePartial(c.logger, output)
	})
	if err != nil {
		return domain.ConversionResult{}, err
	}

	report, err := quality.ValidateOutput(output, link.MinOutputBytes)
	if err != nil {
		return domain.ConversionResult{}, fmt.Errorf("%s: %w", name, err)
	}
	result.Size = report.Size
	if result.Width == 0 || result.Height == 0 {
		result.Width = report.Width
		result.Height = report.Height
	}
	return result, nil
}

type phaseOutcome[T any] struct {
	value T
	err   error
}

// runPhase runs fn on its own goroutine so a strategy that ignores its
// context is abandoned once the limit passes. onLate, when set, runs after
// an abandoned fn finally returns.
func runPhase[T any](
	ctx context.Context,
	limit time.Duration,
	strategy string,
	phase string,
	fn func(context.Context) (T, error),
	onLate func(),
) (T, error) {
	var zero T
	phaseCtx, cancel := ctx, context.CancelFunc(func() {})
	if limit > 0 {
		phaseCtx, cancel = context.WithTimeout(ctx, limit)
	}
	defer cancel()

	var abandoned atomic.Bool
	done := make(chan phaseOutcome[T], 1)
	go func() {
		var outcome phaseOutcome[T]
		defer func() {
			if recovered := recover(); recovered != nil {
				outcome = phaseOutcome[T]{err: fmt.Errorf("%s %s panicked: %v", strategy, phase, recovered)}
			}
			done <- outcome
			if abandoned.Load() && onLate != nil {
				onLate()
			}
		}()
		outcome.value, outcome.err = fn(phaseCtx)
	}()

	timedOut := func() bool {
		return limit > 0 && ctx.Err() == nil && errors.Is(phaseCtx.Err(), context.DeadlineExceeded)
	}

	select {
	case outcome := <-done:
		if outcome.err != nil && timedOut() {
			return zero, &domain.TimeoutError{Strategy: strategy, Phase: phase, Limit: limit}
		}
		return outcome.value, outcome.err
	case <-phaseCtx.Done():
		abandoned.Store(true)
		if timedOut() {
			return zero, &domain.TimeoutError{Strategy: strategy, Phase: phase, Limit: limit}
		}
		return zero, ctx.Err()
	}
}

func finalizeResult(result domain.ConversionResult, strategy, output string, info PDFInfo) domain.ConversionResult {
	result.Success = true
	result.Strategy = strategy
	result.OutputPath = output
	if result.Pages == 0 {
		result.Pages = info.Pages
	}
	return result
}

// attemptOutputPath keeps each attempt in its own file so an abandoned
// strategy can never write into its successor's output.
func attemptOutputPath(output string, index int) string {
	dir, base := filepath.Split(output)
	return filepath.Join(dir, fmt.Sprintf(".attempt%d-%s", index, base))
}

func removePartial(logger zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Str("path", path).Msg("remove partial output failed")
	}
}

// monotonicSink forwards reports in non-decreasing order. Windows map each
// attempt's 0..100 onto its slice of the overall range.
type monotonicSink struct {
	mu   sync.Mutex
	sink ProgressSink
	last int
	sent bool
}

func (m *monotonicSink) window(lo, hi int) *progressWindow {
	return &progressWindow{guard: m, lo: lo, hi: hi}
}

func (m *monotonicSink) forward(percent int, message string) {
	if m.sent && percent < m.last {
		return
	}
	m.last = percent
	m.sent = true
	m.sink.Report(percent, message)
}

func (m *monotonicSink) finish(percent int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forward(percent, message)
}

type progressWindow struct {
	guard  *monotonicSink
	lo     int
	hi     int
	closed bool
}

func (w *progressWindow) Report(percent int, message string) {
	w.emit(percent, message)
}

func (w *progressWindow) emit(percent int, message string) {
	w.guard.mu.Lock()
	defer w.guard.mu.Unlock()
	if w.closed {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	w.guard.forward(w.lo+percent*(w.hi-w.lo)/100, message)
}

// close drops any report that arrives after the attempt ended.
func (w *progressWindow) close() {
	w.guard.mu.Lock()
	w.closed = true
	w.guard.mu.Unlock()
}
