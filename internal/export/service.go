package export

import (
	"context"
	"fmt"
	"html/template"
	"time"

	"go.uber.org/zap"
)

type pdfRenderer func(ctx context.Context, html string) ([]byte, error)

// Service provides page export functionality
type Service struct {
	renderPDF pdfRenderer
	timeout   time.Duration
	logger    *zap.Logger
}

func NewService(logger *zap.Logger) *Service {
	return &Service{
		renderPDF: chromePDF,
		timeout:   30 * time.Second,
		logger:    logger.Named("export"),
	}
}

var exportable = map[string]bool{"DOCUMENT": true, "AI_CHAT": true, "CHANNEL": true}

// Export renders doc in the requested format.
func (s *Service) Export(ctx context.Context, doc Document, format Format) (*Result, error) {
	if !exportable[doc.Type] {
		return nil, ErrNotExportable
	}

	html, err := RenderPageHTML(TemplateData{
		Title:       doc.Title,
		ContentHTML: template.HTML(ProseMirrorToHTML([]byte(doc.Content))),
		Author:      doc.Author,
		UpdatedAt:   doc.UpdatedAt,
		DriveName:   doc.DriveName,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(doc.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		start := time.Now()
		data, err := s.renderPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("pdf rendered", zap.String("page_id", doc.ID), zap.Int("bytes", len(data)), zap.Duration("took", time.Since(start)))
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(doc.Title) + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
