package entity

import (
	"context"
	"strings"
	"unicode/utf8"
)

var textualApplicationTypes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/javascript": true,
	"application/x-yaml":     true,
	"application/x-sh":       true,
	"application/sql":        true,
}

// PlainTextExtractor handles text/* and a few textual application types.
// Invalid UTF-8 is repaired rather than rejected.
type PlainTextExtractor struct{}

// Extract implements ContentExtractor.
func (PlainTextExtractor) Extract(_ context.Context, content []byte, mimeType string) (string, error) {
	if !IsTextual(mimeType) {
		return "", ErrUnsupported
	}
	if utf8.Valid(content) {
		return string(content), nil
	}
	return strings.ToValidUTF8(string(content), "�"), nil
}

// IsTextual reports whether mimeType (parameters ignored) is plain text.
func IsTextual(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return strings.HasPrefix(mt, "text/") || textualApplicationTypes[mt]
}
