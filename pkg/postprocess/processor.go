// Package postprocess normalises recognized text and picks out business
// identifiers (CUIT, remito number) and the customer/vendor marker.
package postprocess

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pario-ai/ocrgate/pkg/logging"
	"github.com/pario-ai/ocrgate/pkg/models"
)

const fallbackRemitoPattern = `\d{4}[\s_-]\d{4,8}`

var (
	lineBreaks  = regexp.MustCompile(`\r\n|\r|\n`)
	whitespace  = regexp.MustCompile(`\s+`)
	cuitPattern = regexp.MustCompile(`(?i)\b(\d{2}-?\d{8}-?\d)\b`)
	separators  = regexp.MustCompile(`[^A-Za-z0-9]+`)
	digitsOnly  = regexp.MustCompile(`^\d+$`)
)

// Processor is safe for concurrent use.
type Processor struct {
	remito *regexp.Regexp
	logger *zap.Logger
}

// New builds a Processor whose remito detector is derived from examples.
func New(remitoExamples []string, logger *zap.Logger) (*Processor, error) {
	re, err := regexp.Compile(BuildRemitoPattern(remitoExamples))
	if err != nil {
		return nil, err
	}
	return &Processor{remito: re, logger: logging.OrNop(logger)}, nil
}

// Process normalises text and extracts the first CUIT and remito number.
func (p *Processor) Process(ctx context.Context, text string) (models.ProcessedText, error) {
	if err := ctx.Err(); err != nil {
		return models.ProcessedText{}, err
	}
	normalized := Normalize(text)
	return models.ProcessedText{
		NormalizedText:   normalized,
		DetectedCUIT:     cuitPattern.FindString(normalized),
		RemitoNumber:     p.remito.FindString(normalized),
		CustomerOrVendor: p.detectCustomer(normalized),
	}, nil
}

// Normalize collapses every whitespace run, line breaks included, into a
// single space and trims the ends.
func Normalize(text string) string {
	s := lineBreaks.ReplaceAllString(text, " \n ")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// BuildRemitoPattern turns sample remito numbers into a pattern: each run of
// digits becomes \d{n}, other tokens are matched literally, and tokens are
// joined by a space, underscore or dash. With no usable examples a generic
// NNNN-NNNNNNNN pattern is used.
func BuildRemitoPattern(examples []string) string {
	var alternatives []string
	for _, ex := range examples {
		var parts []string
		for _, tok := range separators.Split(ex, -1) {
			if strings.TrimSpace(tok) == "" {
				continue
			}
			if digitsOnly.MatchString(tok) {
				parts = append(parts, `\d{`+strconv.Itoa(len(tok))+`}`)
			} else {
				parts = append(parts, regexp.QuoteMeta(tok))
			}
		}
		if len(parts) > 0 {
			alternatives = append(alternatives, strings.Join(parts, `[\s_-]`))
		}
	}
	if len(alternatives) == 0 {
		alternatives = []string{fallbackRemitoPattern}
	}
	return `(?i)\b(` + strings.Join(alternatives, "|") + `)\b`
}

func (p *Processor) detectCustomer(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "cliente"):
		return "cliente"
	case strings.Contains(lower, "proveedor"):
		return "proveedor"
	}
	p.logger.Debug("no customer/vendor keyword detected")
	return ""
}
