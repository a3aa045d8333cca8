package query

import (
	"strings"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
)

// ScoreSort orders hits by descending relevance.
const ScoreSort = "-_score"

// ParseSort validates a sort specification: field names, each optionally
// prefixed with '-' for descending or '+' for ascending. "score" is an alias
// for relevance. An empty list sorts by score. The result is in bleve's
// SortBy syntax.
func ParseSort(spec []string) ([]string, error) {
	var out []string
	for _, raw := range SplitValues(spec) {
		desc := false
		field := raw
		switch {
		case strings.HasPrefix(field, "-"):
			desc, field = true, field[1:]
		case strings.HasPrefix(field, "+"):
			field = field[1:]
		}
		field = strings.TrimSpace(field)
		if field == "" || strings.ContainsAny(field, " \t-+") {
			return nil, wserrors.New(wserrors.ErrCodeInvalidSort, "invalid sort field "+raw, nil)
		}
		if field == "score" {
			field = "_score"
		}
		if desc {
			field = "-" + field
		}
		out = append(out, field)
	}
	if len(out) == 0 {
		return []string{ScoreSort}, nil
	}
	return out, nil
}
