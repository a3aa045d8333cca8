package entity

import (
	"context"
	"fmt"
	"log/slog"
)

// Builder converts entities into documents. It is used by the single
// indexing goroutine but is safe for concurrent use.
type Builder struct {
	extractor ContentExtractor
	registry  *FieldRegistry
	logger    *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithExtractor sets the attachment content extractor.
func WithExtractor(e ContentExtractor) BuilderOption {
	return func(b *Builder) { b.extractor = e }
}

// WithRegistry records the text fields of every built document in r.
func WithRegistry(r *FieldRegistry) BuilderOption {
	return func(b *Builder) { b.registry = r }
}

// WithLogger sets the logger used for degraded extractions.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a Builder. Without an extractor attachments are indexed
// with metadata only.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{logger: discardLogger}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = discardLogger
	}
	return b
}

// Build returns the document for e. Tombstones have no document and return
// (nil, nil). Build never lets an extraction problem escape; an error is
// returned only for an unknown variant or a panic in the builder itself.
func (b *Builder) Build(ctx context.Context, e Entity) (doc *Document, err error) {
	if e == nil {
		return nil, fmt.Errorf("nil entity")
	}
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("building %s: panic: %v", e.ID(), r)
		}
	}()

	switch v := e.(type) {
	case *Page:
		doc = buildPage(v)
	case *Attachment:
		doc = b.buildAttachment(ctx, v)
	case *Objects:
		doc = b.buildObjects(ctx, v)
	case *Tombstone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown entity type %T", e)
	}

	if b.registry != nil {
		b.registry.AddDocument(doc)
	}
	return doc, nil
}
