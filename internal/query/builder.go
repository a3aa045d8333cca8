package query

import (
	"strings"

	"github.com/xwiki/xwiki-platform-sub060/internal/entity"
	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
)

// Expression form prefixes.
const (
	PropPrefix  = "PROP "
	MultiPrefix = "MULTI "
)

// Builder turns a query string and filters into a Condition.
//
// Three forms are accepted:
//
//	PROP <field>:<expr>   expr against one field
//	MULTI <expr>          expr against every registered text field
//	<expr>                expr against the fulltext field
type Builder struct {
	registry *entity.FieldRegistry
	defOp    BoolOp
}

// NewBuilder creates a Builder. defaultOperator joins juxtaposed clauses; it
// is OR unless "AND" is given. registry may be nil, in which case MULTI
// searches the built-in text fields.
func NewBuilder(registry *entity.FieldRegistry, defaultOperator string) *Builder {
	op := Or
	if strings.EqualFold(strings.TrimSpace(defaultOperator), string(And)) {
		op = And
	}
	if registry == nil {
		registry = entity.NewFieldRegistry()
	}
	return &Builder{registry: registry, defOp: op}
}

// Build parses expr and ANDs it with the tenant and locale filters. Each
// filter entry may itself be a comma-separated list. Empty filters are
// omitted rather than matching nothing.
func (b *Builder) Build(expr string, tenants, locales []string) (Condition, error) {
	cond, err := b.parseExpression(expr)
	if err != nil {
		return nil, err
	}
	return Join(And,
		cond,
		Filter(entity.FieldTenant, tenants),
		Filter(entity.FieldLocale, locales),
	), nil
}

func (b *Builder) parseExpression(expr string) (Condition, error) {
	trimmed := strings.TrimSpace(expr)

	switch {
	case trimmed == strings.TrimSpace(PropPrefix), trimmed == strings.TrimSpace(MultiPrefix):
		return nil, wserrors.New(wserrors.ErrCodeQueryEmpty, trimmed+" query has no expression", nil)

	case strings.HasPrefix(trimmed, PropPrefix):
		rest := strings.TrimSpace(trimmed[len(PropPrefix):])
		field, sub, ok := strings.Cut(rest, ":")
		field = strings.TrimSpace(field)
		if !ok || field == "" || strings.ContainsAny(field, " \t") {
			return nil, wserrors.QuerySyntaxError("PROP query must look like PROP <field>:<expression>", len(PropPrefix))
		}
		return Parse(sub, []string{field}, b.defOp)

	case strings.HasPrefix(trimmed, MultiPrefix):
		return Parse(trimmed[len(MultiPrefix):], b.registry.Names(), b.defOp)

	default:
		return Parse(trimmed, []string{entity.FieldFullText}, b.defOp)
	}
}

// Filter builds an exact-match restriction of field to values: nil for no
// values, a bare comparison for one, an OR group for several.
func Filter(field string, values []string) Condition {
	vals := SplitValues(values)
	switch len(vals) {
	case 0:
		return nil
	case 1:
		return &Compare{Field: field, Value: vals[0], Op: OpTerm}
	}
	children := make([]Condition, len(vals))
	for i, v := range vals {
		children[i] = &Compare{Field: field, Value: v, Op: OpTerm}
	}
	return &Group{Op: Or, Children: children}
}

// SplitValues flattens comma-separated entries, trimming blanks and dropping
// empties and duplicates.
func SplitValues(values []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}
