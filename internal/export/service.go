package export

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Converter turns rendered minutes into another document format.
type Converter func(ctx context.Context, html, name string) (*Result, error)

type Options struct {
	PDF     Converter
	DOCX    Converter
	Timeout time.Duration
	Logger  *zap.Logger
}

// Service provides minutes export functionality
type Service struct {
	pdf     Converter
	docx    Converter
	timeout time.Duration
	logger  *zap.Logger
}

// NewService creates an export service. Unset converters use headless
// Chrome for PDF and pandoc for DOCX.
func NewService(opts Options) *Service {
	if opts.PDF == nil {
		opts.PDF = exportPDF
	}
	if opts.DOCX == nil {
		opts.DOCX = exportDOCX
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{pdf: opts.PDF, docx: opts.DOCX, timeout: opts.Timeout, logger: opts.Logger}
}

// Export generates the minutes in the requested format
func (s *Service) Export(ctx context.Context, minutes Minutes, format Format) (*Result, error) {
	if minutes.GeneratedAt.IsZero() {
		minutes.GeneratedAt = time.Now()
	}
	html, err := RenderMinutesHTML(NewTemplateData(minutes))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	name := filenameFor(minutes)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var result *Result
	switch format {
	case FormatHTML:
		result = &Result{Data: []byte(html), Filename: name + ".html", MimeType: "text/html; charset=utf-8"}
	case FormatPDF:
		result, err = s.pdf(ctx, html, name)
	case FormatDOCX:
		result, err = s.docx(ctx, html, name)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		s.logger.Warn("export failed", zap.String("format", string(format)),
			zap.Stringer("scope", minutes.Scope), zap.Error(err))
		return nil, err
	}
	s.logger.Info("exported minutes", zap.String("format", string(format)),
		zap.Stringer("scope", minutes.Scope), zap.Int("bytes", len(result.Data)))
	return result, nil
}

func filenameFor(m Minutes) string {
	return sanitizeFilename(m.Scope.Kind + " " + m.Scope.BranchID + " " + m.Scope.Date.String())
}
