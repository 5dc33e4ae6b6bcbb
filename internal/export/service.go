package export

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"time"

	"richfield/internal/document"
	"richfield/internal/markup"
)

// ContentSource loads the markup for a field at a version.
type ContentSource interface {
	FieldContent(ctx context.Context, fieldID, version string) (Content, error)
}

// ArtifactStore keeps exported files. Put returns a URL the file can be fetched from.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Service provides field export functionality
type Service struct {
	source    ContentSource
	codec     markup.Codec
	artifacts ArtifactStore

	// Overridable for tests.
	renderPDF  func(ctx context.Context, html, title string) (*Result, error)
	renderDOCX func(ctx context.Context, html, title string) (*Result, error)
	now        func() time.Time
}

// NewService creates a new export service. artifacts may be nil.
func NewService(source ContentSource, codec markup.Codec, artifacts ArtifactStore) *Service {
	if codec == nil {
		codec = markup.HTML{}
	}
	return &Service{
		source:     source,
		codec:      codec,
		artifacts:  artifacts,
		renderPDF:  exportPDF,
		renderDOCX: exportDOCX,
		now:        time.Now,
	}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Upload && s.artifacts == nil {
		return nil, ErrUploadUnavailable
	}
	content, err := s.source.FieldContent(ctx, req.FieldID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	doc := document.Empty()
	if content.Markup != "" {
		doc = s.codec.Parse(content.Markup)
	}

	title := content.Label
	if title == "" {
		title = req.FieldID
	}
	data := TemplateData{
		Title:       title,
		ContentHTML: template.HTML(s.codec.Serialize(doc)),
		Author:      content.UpdatedBy,
		UpdatedAt:   content.UpdatedAt,
		WordCount:   document.WordCount(doc),
		Version:     req.Version,
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	var result *Result
	switch req.Format {
	case FormatHTML, "":
		result = &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}
	case FormatPDF:
		result, err = s.renderPDF(ctx, html, title)
	case FormatDOCX:
		result, err = s.renderDOCX(ctx, html, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	if err != nil {
		return nil, err
	}

	if req.Upload {
		key := objectKey(req.FieldID, result.Filename, s.now())
		url, err := s.artifacts.Put(ctx, key, result.Data, result.MimeType)
		if err != nil {
			return nil, fmt.Errorf("upload export: %w", err)
		}
		result.ObjectKey = key
		result.URL = url
		log.Printf("export: uploaded %s (%d bytes)", key, len(result.Data))
	}
	return result, nil
}

// IsDependencyMissing reports whether err means a renderer binary is not
// installed or uploads are not configured.
func IsDependencyMissing(err error) bool {
	return errors.Is(err, ErrPDFDependencyMissing) || errors.Is(err, ErrDOCXDependencyMissing) || errors.Is(err, ErrUploadUnavailable)
}

func objectKey(fieldID, filename string, at time.Time) string {
	return fmt.Sprintf("fields/%s/%s-%s", fieldID, at.UTC().Format("20060102T150405Z"), filename)
}
