package entity

import (
	"context"
	"fmt"
	"strconv"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
)

// Suffixes of the fields emitted for each multi-select choice.
const (
	KeySuffix   = ".key"
	ValueSuffix = ".value"
)

// Choice is one selected option of an enumerated property: Key is the stored
// identifier and Label the displayed text.
type Choice struct {
	Key   string
	Label string
}

// PropertyValue is either a scalar (Text) or a multi-select (Choices).
type PropertyValue struct {
	Text    string
	Choices []Choice
}

// Property is one named value of an object record. When Resolve is set it is
// called at build time and its result replaces Value.
type Property struct {
	Name    string
	Value   PropertyValue
	Resolve func(ctx context.Context) (PropertyValue, error)
}

// Record is one structured object attached to a page.
type Record struct {
	Class      string
	Number     int
	Properties []Property
}

// Objects groups every record attached to a page into one document.
type Objects struct {
	Base
	Records []Record
}

// ObjectsID returns <page-id>.objects.
func ObjectsID(page Base) string {
	return page.PageID() + ".objects"
}

func (o *Objects) ID() string { return ObjectsID(o.Base) }
func (o *Objects) Kind() Kind { return KindObject }
func (*Objects) sealed()      {}

// PropertyField returns <class>.<property>.
func PropertyField(class, property string) string {
	return class + "." + property
}

func (b *Builder) buildObjects(ctx context.Context, o *Objects) *Document {
	d := &Document{ID: o.ID(), Kind: KindObject}
	d.addBase(o.Base)

	text := o.fullText()
	seenClass := make(map[string]bool)
	for _, rec := range o.Records {
		if !seenClass[rec.Class] {
			seenClass[rec.Class] = true
			d.keyword(FieldObject, rec.Class)
		}
		for _, prop := range rec.Properties {
			field := PropertyField(rec.Class, prop.Name)
			val := b.resolveProperty(ctx, o, rec, prop)
			text = append(text, addProperty(d, field, val)...)
		}
	}

	d.text(FieldFullText, joinText(text), false)
	return d
}

// addProperty emits the fields of one property and returns its readable text.
//
// A scalar becomes <f>=text. Each choice (k, v) becomes <f>.key=k,
// <f>.value=v and <f>=v, plus <f>=k when k differs from v.
func addProperty(d *Document, field string, val PropertyValue) []string {
	if len(val.Choices) == 0 {
		d.text(field, val.Text, true)
		return []string{val.Text}
	}

	text := make([]string, 0, len(val.Choices))
	for _, c := range val.Choices {
		d.Fields = append(d.Fields, Field{Name: field + KeySuffix, Value: c.Key, Stored: true})
		d.text(field+ValueSuffix, c.Label, true)
		d.text(field, c.Label, true)
		if c.Key != c.Label {
			d.text(field, c.Key, true)
		}
		text = append(text, c.Label)
	}
	return text
}

func (b *Builder) resolveProperty(ctx context.Context, o *Objects, rec Record, prop Property) (val PropertyValue) {
	if prop.Resolve == nil {
		return prop.Value
	}

	defer func() {
		if r := recover(); r != nil {
			b.logProperty(o, rec, prop, fmt.Errorf("property resolver panic: %v", r))
			val = PropertyValue{}
		}
	}()

	v, err := prop.Resolve(ctx)
	if err != nil {
		b.logProperty(o, rec, prop, err)
		return PropertyValue{}
	}
	return v
}

func (b *Builder) logProperty(o *Objects, rec Record, prop Property, cause error) {
	err := wserrors.ExtractionError("object property extraction failed", cause).
		WithDetail("id", o.ID()).
		WithDetail("class", rec.Class).
		WithDetail("number", strconv.Itoa(rec.Number)).
		WithDetail("property", prop.Name)
	b.logger.Warn("extraction_failed", wserrors.LogAttrs(err)...)
}
