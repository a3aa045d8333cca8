package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
)

// ErrUnsupported is returned by a ContentExtractor that cannot handle a mime type.
var ErrUnsupported = errors.New("unsupported content type")

// ContentExtractor turns raw bytes into indexable text.
type ContentExtractor interface {
	Extract(ctx context.Context, content []byte, mimeType string) (string, error)
}

// ExtractorFunc adapts a function to ContentExtractor.
type ExtractorFunc func(ctx context.Context, content []byte, mimeType string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, content []byte, mimeType string) (string, error) {
	return f(ctx, content, mimeType)
}

// extractAttachment loads and extracts a's content. It tries the reported
// mime type first and the extension table second. Every failure degrades to
// empty text.
func (b *Builder) extractAttachment(ctx context.Context, a *Attachment) string {
	if a.Load == nil || b.extractor == nil {
		return ""
	}

	content, err := safeLoad(ctx, a)
	if err != nil {
		b.logExtraction(a, a.MimeType, err)
		return ""
	}
	if len(content) == 0 {
		return ""
	}

	var firstErr error
	if a.MimeType != "" {
		text, err := b.safeExtract(ctx, content, a.MimeType)
		if err == nil {
			return text
		}
		firstErr = err
	}

	fallback := MimeTypeFor(a.Filename)
	if fallback != a.MimeType {
		text, err := b.safeExtract(ctx, content, fallback)
		if err == nil {
			return text
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	b.logExtraction(a, a.MimeType, firstErr)
	return ""
}

func (b *Builder) logExtraction(a *Attachment, mimeType string, cause error) {
	err := wserrors.ExtractionError("attachment text extraction failed", cause).
		WithDetail("id", a.ID()).
		WithDetail("mime_type", mimeType)
	b.logger.Warn("extraction_failed", wserrors.LogAttrs(err)...)
}

func (b *Builder) safeExtract(ctx context.Context, content []byte, mimeType string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panic: %v", r)
		}
	}()
	return b.extractor.Extract(ctx, content, mimeType)
}

func safeLoad(ctx context.Context, a *Attachment) (content []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("attachment loader panic: %v", r)
		}
	}()
	return a.Load(ctx)
}

// discardLogger is used when a Builder has no logger configured.
var discardLogger = slog.New(slog.DiscardHandler)
