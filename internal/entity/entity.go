// Package entity defines the indexable units of a wiki (pages, attachments,
// object records and deletions) and turns them into flat index documents.
//
// Entities are cheap descriptors. Anything expensive, such as reading an
// attachment's bytes or resolving an object property, is deferred until the
// indexing worker builds the document.
package entity

import (
	"strings"
	"time"
)

// Kind identifies an entity variant. Its value is stored in the "type" field.
type Kind string

const (
	KindPage       Kind = "page"
	KindAttachment Kind = "attachment"
	KindObject     Kind = "object"
	KindTombstone  Kind = "delete"
)

// Index field names.
const (
	FieldID           = "id"
	FieldType         = "type"
	FieldTenant       = "tenant"
	FieldLocale       = "locale"
	FieldSpace        = "space"
	FieldName         = "name"
	FieldFullName     = "fullname"
	FieldAuthor       = "author"
	FieldCreator      = "creator"
	FieldDate         = "date"
	FieldCreationDate = "creationdate"
	FieldTitle        = "title"
	FieldFullText     = "fulltext"
	FieldFilename     = "filename"
	FieldMimeType     = "mimetype"
	FieldSize         = "filesize"
	FieldObject       = "object"
)

// DateLayout is the sortable UTC layout used for date fields (yyyyMMddHHmmss).
const DateLayout = "20060102150405"

// Entity is an indexable unit. The set of implementations is closed:
// *Page, *Attachment, *Objects and *Tombstone.
type Entity interface {
	// ID is the stable logical key. Two entities with the same ID describe
	// the same indexed document.
	ID() string
	Kind() Kind
	sealed()
}

// Base holds the metadata shared by every variant.
type Base struct {
	Tenant   string
	Space    string
	Name     string
	Locale   string
	Title    string
	Author   string
	Creator  string
	Created  time.Time
	Modified time.Time
}

// PageID returns tenant:space.name, suffixed with :locale when one is set.
func (b Base) PageID() string {
	var sb strings.Builder
	sb.WriteString(b.Tenant)
	sb.WriteByte(':')
	sb.WriteString(b.FullName())
	if b.Locale != "" {
		sb.WriteByte(':')
		sb.WriteString(b.Locale)
	}
	return sb.String()
}

// FullName returns space.name.
func (b Base) FullName() string {
	return b.Space + "." + b.Name
}

// fullText is the human-readable text every variant starts from.
func (b Base) fullText() []string {
	return []string{b.Title, b.Space, b.Name, b.Author}
}

// FormatDate renders t in DateLayout. The zero time renders as "".
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}

// Field is one name/value pair of a Document.
type Field struct {
	Name  string
	Value string
	// Stored fields are returned with search hits.
	Stored bool
	// Tokenized fields are analyzed; others are indexed as a single keyword.
	Tokenized bool
}

// Document is the flattened form of an entity handed to the index engine.
// Fields keep insertion order; a name may repeat.
type Document struct {
	ID     string
	Kind   Kind
	Fields []Field
}

func (d *Document) keyword(name, value string) {
	if value == "" {
		return
	}
	d.Fields = append(d.Fields, Field{Name: name, Value: value, Stored: true})
}

func (d *Document) text(name, value string, stored bool) {
	d.Fields = append(d.Fields, Field{Name: name, Value: value, Stored: stored, Tokenized: true})
}

// Values returns every value recorded for name, in order.
func (d *Document) Values(name string) []string {
	var out []string
	for _, f := range d.Fields {
		if f.Name == name {
			out = append(out, f.Value)
		}
	}
	return out
}

// Value returns the first value recorded for name.
func (d *Document) Value(name string) string {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func (d *Document) addBase(b Base) {
	d.keyword(FieldID, d.ID)
	d.keyword(FieldType, string(d.Kind))
	d.keyword(FieldTenant, b.Tenant)
	d.keyword(FieldLocale, b.Locale)
	d.keyword(FieldSpace, b.Space)
	d.keyword(FieldName, b.Name)
	d.keyword(FieldFullName, b.FullName())
	d.keyword(FieldAuthor, b.Author)
	d.keyword(FieldCreator, b.Creator)
	d.keyword(FieldDate, FormatDate(b.Modified))
	d.keyword(FieldCreationDate, FormatDate(b.Created))
	if b.Title != "" {
		d.text(FieldTitle, b.Title, true)
	}
}

func joinText(parts []string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}
