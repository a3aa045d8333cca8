package entity

import (
	"context"
	"strconv"
)

// Attachment is a file attached to a page. Base describes the owning page,
// except Author and Modified which describe the attachment itself.
type Attachment struct {
	Base
	Filename string
	// MimeType is the type reported by the platform. It may be empty or wrong.
	MimeType string
	Size     int64
	// Load reads the content. It is called once, when the document is built.
	Load func(ctx context.Context) ([]byte, error)
}

// AttachmentID returns <page-id>.file.<filename>.
func AttachmentID(page Base, filename string) string {
	return page.PageID() + ".file." + filename
}

func (a *Attachment) ID() string { return AttachmentID(a.Base, a.Filename) }
func (a *Attachment) Kind() Kind { return KindAttachment }
func (*Attachment) sealed()      {}

func (b *Builder) buildAttachment(ctx context.Context, a *Attachment) *Document {
	d := &Document{ID: a.ID(), Kind: KindAttachment}
	d.addBase(a.Base)

	mimeType := a.MimeType
	if mimeType == "" {
		mimeType = MimeTypeFor(a.Filename)
	}
	d.keyword(FieldFilename, a.Filename)
	d.keyword(FieldMimeType, mimeType)
	if a.Size > 0 {
		d.keyword(FieldSize, strconv.FormatInt(a.Size, 10))
	}

	content := b.extractAttachment(ctx, a)
	d.text(FieldFullText, joinText(append(a.fullText(), a.Filename, content)), false)
	return d
}
