package store

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/document"
	"github.com/blevesearch/bleve/v2/mapping"
	index "github.com/blevesearch/bleve_index_api"

	"github.com/xwiki/xwiki-platform-sub060/internal/entity"
)

// Analyzers accepted by Options.Analyzer.
var analyzers = map[string]string{
	"standard": standard.Name,
	"simple":   simple.Name,
	"en":       en.AnalyzerName,
	"keyword":  keyword.Name,
}

// AnalyzerName maps a configured analyzer to its bleve registry name.
func AnalyzerName(name string) (string, error) {
	if name == "" {
		return standard.Name, nil
	}
	n, ok := analyzers[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("unknown analyzer %q", name)
	}
	return n, nil
}

// NewIndexMapping builds the mapping used to create generations and to
// analyze query text. Keyword fields are mapped explicitly so that match
// queries against them are not lower-cased or split.
func NewIndexMapping(analyzer string) (*mapping.IndexMappingImpl, error) {
	name, err := AnalyzerName(analyzer)
	if err != nil {
		return nil, err
	}

	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = name
	m.DefaultField = entity.FieldFullText
	m.StoreDynamic = false

	doc := bleve.NewDocumentMapping()
	for _, f := range []string{
		entity.FieldID, entity.FieldType, entity.FieldTenant, entity.FieldLocale,
		entity.FieldSpace, entity.FieldName, entity.FieldFullName, entity.FieldAuthor,
		entity.FieldCreator, entity.FieldDate, entity.FieldCreationDate,
		entity.FieldFilename, entity.FieldMimeType, entity.FieldSize, entity.FieldObject,
	} {
		doc.AddFieldMappingsAt(f, bleve.NewKeywordFieldMapping())
	}

	title := bleve.NewTextFieldMapping()
	title.Analyzer = name
	doc.AddFieldMappingsAt(entity.FieldTitle, title)

	fulltext := bleve.NewTextFieldMapping()
	fulltext.Analyzer = name
	fulltext.Store = false
	doc.AddFieldMappingsAt(entity.FieldFullText, fulltext)

	m.DefaultMapping = doc
	return m, nil
}

// converter turns entity documents into bleve documents with per-field
// indexing options.
type converter struct {
	text analysis.Analyzer
}

func newConverter(m *mapping.IndexMappingImpl) (*converter, error) {
	a := m.AnalyzerNamed(m.DefaultAnalyzer)
	if a == nil {
		return nil, fmt.Errorf("analyzer %s is not registered", m.DefaultAnalyzer)
	}
	return &converter{text: a}, nil
}

func (c *converter) convert(d *entity.Document) *document.Document {
	bd := document.NewDocument(d.ID)
	for _, f := range d.Fields {
		opts := index.IndexField
		if f.Stored {
			opts |= index.StoreField
		}

		// A nil analyzer indexes the whole value as one term.
		var a analysis.Analyzer
		if f.Tokenized {
			opts |= index.IncludeTermVectors
			a = c.text
		} else {
			opts |= index.DocValues
		}
		bd.AddField(document.NewTextFieldCustom(f.Name, nil, []byte(f.Value), opts, a))
	}
	return bd
}
