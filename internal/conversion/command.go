package conversion

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/civchange/pdf2psd-back/internal/domain"
)

type CommandStrategyConfig struct {
	Name    string
	Binary  string
	Density int
	// ExtraArgs are inserted between the input and output operands.
	ExtraArgs []string
}

// CommandStrategy renders the first page of a PDF into a PSD by running an
// ImageMagick compatible binary.
type CommandStrategy struct {
	name      string
	binary    string
	density   int
	extraArgs []string
}

func NewCommandStrategy(config CommandStrategyConfig) *CommandStrategy {
	if strings.TrimSpace(config.Binary) == "" {
		config.Binary = "magick"
	}
	if config.Density <= 0 {
		config.Density = 300
	}
	if strings.TrimSpace(config.Name) == "" {
		config.Name = fmt.Sprintf("magick-%ddpi", config.Density)
	}
	return &CommandStrategy{
		name:      config.Name,
		binary:    config.Binary,
		density:   config.Density,
		extraArgs: append([]string(nil), config.ExtraArgs...),
	}
}

func (s *CommandStrategy) Name() string {
	return s.name
}

func (s *CommandStrategy) Density() int {
	return s.density
}

// Init resolves the binary and checks that it runs.
func (s *CommandStrategy) Init(ctx context.Context) error {
	path, err := exec.LookPath(s.binary)
	if err != nil {
		return fmt.Errorf("%s: resolve %s: %w", s.name, s.binary, err)
	}
	output, err := exec.CommandContext(ctx, path, "-version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: version probe: %w: %s", s.name, err, trimOutput(output))
	}
	return nil
}

func (s *CommandStrategy) Convert(
	ctx context.Context,
	input string,
	output string,
	sink ProgressSink,
) (domain.ConversionResult, error) {
	sink.Report(10, "Preparing PDF for conversion...")

	info, err := Probe(input)
	if err != nil {
		return domain.ConversionResult{}, fmt.Errorf("%s: %w", s.name, err)
	}

	sink.Report(20, fmt.Sprintf("Rendering first page at %d dpi...", s.density))
	args := []string{"-density", strconv.Itoa(s.density), input + "[0]"}
	args = append(args, s.extraArgs...)
	args = append(args, output)

	var stderr bytes.Buffer
	command := exec.CommandContext(ctx, s.binary, args...)
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return domain.ConversionResult{}, ctx.Err()
		}
		return domain.ConversionResult{}, fmt.Errorf("%s: render: %w: %s", s.name, err, trimOutput(stderr.Bytes()))
	}

	sink.Report(90, "PSD generated, saving file...")
	width, height := info.PixelSize(s.density)
	return domain.ConversionResult{
		Success:    true,
		OutputPath: output,
		Strategy:   s.name,
		Pages:      info.Pages,
		Width:      width,
		Height:     height,
	}, nil
}

func trimOutput(output []byte) string {
	message := strings.TrimSpace(string(output))
	if len(message) > 700 {
		message = message[:700]
	}
	return message
}
