package entity

import (
	"sort"
	"strings"
	"sync"
)

// FieldRegistry is the set of tokenized field names known to the indexes.
// MULTI queries search every registered field.
type FieldRegistry struct {
	mu     sync.RWMutex
	fields map[string]struct{}
}

// NewFieldRegistry returns a registry seeded with the built-in text fields.
func NewFieldRegistry() *FieldRegistry {
	r := &FieldRegistry{fields: make(map[string]struct{})}
	r.Add(FieldFullText, FieldTitle)
	return r
}

// Add registers names. Blank names and the internal _all field are ignored.
func (r *FieldRegistry) Add(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		if n == "" || n == "_all" || n == "_id" {
			continue
		}
		r.fields[n] = struct{}{}
	}
}

// AddIndexed registers the text fields among names, skipping keyword fields.
// It is used to seed the registry from an existing index.
func (r *FieldRegistry) AddIndexed(names ...string) {
	var text []string
	for _, n := range names {
		if !IsKeywordField(n) {
			text = append(text, n)
		}
	}
	r.Add(text...)
}

// AddDocument registers the tokenized fields of d.
func (r *FieldRegistry) AddDocument(d *Document) {
	var names []string
	for _, f := range d.Fields {
		if f.Tokenized {
			names = append(names, f.Name)
		}
	}
	if len(names) > 0 {
		r.Add(names...)
	}
}

// Contains reports whether name is registered.
func (r *FieldRegistry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fields[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *FieldRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.fields))
	for n := range r.fields {
		names = append(names, n)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

var keywordFields = map[string]bool{
	FieldID: true, FieldType: true, FieldTenant: true, FieldLocale: true,
	FieldSpace: true, FieldName: true, FieldFullName: true, FieldAuthor: true,
	FieldCreator: true, FieldDate: true, FieldCreationDate: true,
	FieldFilename: true, FieldMimeType: true, FieldSize: true, FieldObject: true,
}

// IsKeywordField reports whether name is indexed as a single untokenized term.
// Multi-select keys (<field>.key) are keywords too.
func IsKeywordField(name string) bool {
	return keywordFields[name] || strings.HasSuffix(name, KeySuffix)
}
