package entity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBase() Base {
	return Base{
		Tenant:   "xwiki",
		Space:    "Main",
		Name:     "WebHome",
		Title:    "Welcome",
		Author:   "XWiki.Admin",
		Creator:  "XWiki.Admin",
		Created:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Modified: time.Date(2024, 6, 7, 8, 9, 10, 0, time.FixedZone("CEST", 2*3600)),
	}
}

type fieldPair struct{ name, value string }

func pairsWithPrefix(d *Document, prefix string) []fieldPair {
	var out []fieldPair
	for _, f := range d.Fields {
		if strings.HasPrefix(f.Name, prefix) {
			out = append(out, fieldPair{f.Name, f.Value})
		}
	}
	return out
}

func TestIDs(t *testing.T) {
	b := testBase()
	assert.Equal(t, "xwiki:Main.WebHome", (&Page{Base: b}).ID())
	assert.Equal(t, "xwiki:Main.WebHome.file.report.pdf", (&Attachment{Base: b, Filename: "report.pdf"}).ID())
	assert.Equal(t, "xwiki:Main.WebHome.objects", (&Objects{Base: b}).ID())

	b.Locale = "fr"
	assert.Equal(t, "xwiki:Main.WebHome:fr", (&Page{Base: b}).ID())
	assert.Equal(t, "xwiki:Main.WebHome:fr", Delete(&Page{Base: b}).ID())
}

func TestBuild_Page_FieldsAndFullText(t *testing.T) {
	// Given: a page with a body
	p := &Page{Base: testBase(), Body: "Hello wiki world"}

	// When: it is built
	doc, err := NewBuilder().Build(context.Background(), p)

	// Then: keyword metadata, a stored title and an unstored fulltext are present
	require.NoError(t, err)
	assert.Equal(t, p.ID(), doc.ID)
	assert.Equal(t, "page", doc.Value(FieldType))
	assert.Equal(t, "Main.WebHome", doc.Value(FieldFullName))
	assert.Equal(t, "20240607060910", doc.Value(FieldDate), "dates are UTC")
	assert.Equal(t, "20240102030405", doc.Value(FieldCreationDate))
	assert.Empty(t, doc.Values(FieldLocale), "empty locale is omitted")
	assert.Equal(t, "Welcome Main WebHome XWiki.Admin Hello wiki world", doc.Value(FieldFullText))

	for _, f := range doc.Fields {
		switch f.Name {
		case FieldFullText:
			assert.True(t, f.Tokenized)
			assert.False(t, f.Stored)
		case FieldTitle:
			assert.True(t, f.Tokenized)
			assert.True(t, f.Stored)
		default:
			assert.False(t, f.Tokenized, f.Name)
		}
	}
}

func TestBuild_Tombstone_HasNoDocument(t *testing.T) {
	doc, err := NewBuilder().Build(context.Background(), &Tombstone{TargetID: "x"})

	assert.NoError(t, err)
	assert.Nil(t, doc)
}

func TestBuild_Objects_MultiSelectFanOut(t *testing.T) {
	tests := []struct {
		name   string
		choice Choice
		want   []fieldPair
	}{
		{
			name:   "key differs from label",
			choice: Choice{Key: "k", Label: "v"},
			want: []fieldPair{
				{"Blog.Category.key", "k"},
				{"Blog.Category.value", "v"},
				{"Blog.Category", "v"},
				{"Blog.Category", "k"},
			},
		},
		{
			name:   "key equals label",
			choice: Choice{Key: "k", Label: "k"},
			want: []fieldPair{
				{"Blog.Category.key", "k"},
				{"Blog.Category.value", "k"},
				{"Blog.Category", "k"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Objects{Base: testBase(), Records: []Record{{
				Class: "Blog",
				Properties: []Property{{
					Name:  "Category",
					Value: PropertyValue{Choices: []Choice{tt.choice}},
				}},
			}}}

			doc, err := NewBuilder().Build(context.Background(), o)

			require.NoError(t, err)
			assert.Equal(t, tt.want, pairsWithPrefix(doc, "Blog.Category"))
		})
	}
}

func TestBuild_Objects_ScalarsAndClassNames(t *testing.T) {
	o := &Objects{Base: testBase(), Records: []Record{
		{Class: "Blog.PostClass", Number: 0, Properties: []Property{{Name: "summary", Value: PropertyValue{Text: "release notes"}}}},
		{Class: "Blog.PostClass", Number: 1, Properties: []Property{{Name: "summary", Value: PropertyValue{Text: "roadmap"}}}},
		{Class: "XWiki.TagClass", Properties: []Property{{Name: "tags", Value: PropertyValue{Text: "news"}}}},
	}}

	doc, err := NewBuilder().Build(context.Background(), o)

	require.NoError(t, err)
	assert.Equal(t, "object", doc.Value(FieldType))
	assert.Equal(t, []string{"Blog.PostClass", "XWiki.TagClass"}, doc.Values(FieldObject))
	assert.Equal(t, []string{"release notes", "roadmap"}, doc.Values("Blog.PostClass.summary"))
	assert.Contains(t, doc.Value(FieldFullText), "roadmap")
	assert.Contains(t, doc.Value(FieldFullText), "news")
}

func TestBuild_Objects_FailingPropertyDegradesAlone(t *testing.T) {
	// Given: one property that errors, one that panics, one that resolves
	o := &Objects{Base: testBase(), Records: []Record{{
		Class: "C",
		Properties: []Property{
			{Name: "broken", Resolve: func(context.Context) (PropertyValue, error) {
				return PropertyValue{}, errors.New("lazy load failed")
			}},
			{Name: "panicky", Resolve: func(context.Context) (PropertyValue, error) {
				panic("boom")
			}},
			{Name: "fine", Resolve: func(context.Context) (PropertyValue, error) {
				return PropertyValue{Text: "kept"}, nil
			}},
		},
	}}}

	// When: building
	doc, err := NewBuilder().Build(context.Background(), o)

	// Then: the failing properties are empty and the rest survives
	require.NoError(t, err)
	assert.Equal(t, []string{""}, doc.Values("C.broken"))
	assert.Equal(t, []string{""}, doc.Values("C.panicky"))
	assert.Equal(t, []string{"kept"}, doc.Values("C.fine"))
}

func TestBuild_RegistersTextFields(t *testing.T) {
	reg := NewFieldRegistry()
	o := &Objects{Base: testBase(), Records: []Record{{
		Class: "Blog",
		Properties: []Property{
			{Name: "Category", Value: PropertyValue{Choices: []Choice{{Key: "k", Label: "v"}}}},
		},
	}}}

	_, err := NewBuilder(WithRegistry(reg)).Build(context.Background(), o)

	require.NoError(t, err)
	assert.True(t, reg.Contains("Blog.Category"))
	assert.True(t, reg.Contains("Blog.Category.value"))
	assert.False(t, reg.Contains("Blog.Category.key"))
	assert.False(t, reg.Contains(FieldTenant))
}
