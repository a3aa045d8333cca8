// Package query turns user search expressions plus tenant and locale filters
// into a boolean condition tree, and compiles that tree into bleve queries.
package query

import (
	"strings"
)

// CompareOp selects how a Compare value is matched.
type CompareOp string

const (
	// OpMatch analyzes the value with the field's analyzer.
	OpMatch CompareOp = "match"
	// OpTerm matches the value exactly.
	OpTerm CompareOp = "term"
	// OpPhrase matches the analyzed value as a phrase.
	OpPhrase CompareOp = "phrase"
	// OpWildcard matches a pattern with * and ?.
	OpWildcard CompareOp = "wildcard"
)

// BoolOp joins the children of a Group.
type BoolOp string

const (
	And BoolOp = "AND"
	Or  BoolOp = "OR"
)

// Condition is a node of the boolean query tree: *Compare, *In, *Group or *All.
type Condition interface {
	// String renders the node in Lucene-like syntax.
	String() string
	node()
}

// Compare tests one field against one value.
type Compare struct {
	Field string
	Value string
	Op    CompareOp
}

// In matches when the field equals any of Values.
type In struct {
	Field  string
	Values []string
}

// Group combines children with Op, optionally negated.
type Group struct {
	Op       BoolOp
	Children []Condition
	Negate   bool
}

// All matches every document.
type All struct{}

func (*Compare) node() {}
func (*In) node()      {}
func (*Group) node()   {}
func (*All) node()     {}

func (c *Compare) String() string {
	switch c.Op {
	case OpPhrase:
		return c.Field + ":" + quote(c.Value)
	case OpWildcard:
		return c.Field + ":" + c.Value
	default:
		return c.Field + ":" + maybeQuote(c.Value)
	}
}

func (c *In) String() string {
	vals := make([]string, len(c.Values))
	for i, v := range c.Values {
		vals[i] = maybeQuote(v)
	}
	return c.Field + ":(" + strings.Join(vals, " OR ") + ")"
}

func (*All) String() string { return "*:*" }

func (g *Group) String() string {
	parts := make([]string, 0, len(g.Children))
	for _, c := range g.Children {
		s := c.String()
		if child, ok := c.(*Group); ok && !child.Negate && len(child.Children) > 1 {
			s = "(" + s + ")"
		}
		parts = append(parts, s)
	}
	s := strings.Join(parts, " "+string(g.Op)+" ")
	if g.Negate {
		if len(g.Children) > 1 {
			s = "(" + s + ")"
		}
		return "NOT " + s
	}
	return s
}

// Not negates c.
func Not(c Condition) *Group {
	return &Group{Op: And, Children: []Condition{c}, Negate: true}
}

// Join combines conditions with op, dropping nils. A single survivor is
// returned as is; none yields nil.
func Join(op BoolOp, conds ...Condition) Condition {
	kept := make([]Condition, 0, len(conds))
	for _, c := range conds {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &Group{Op: op, Children: kept}
	}
}

// wordBreaks end a word in the lexer. Operator characters only matter at the
// start of a word; "e-mail" stays one term.
const wordBreaks = " \t\n\r\"():\\"

func maybeQuote(v string) string {
	switch {
	case v == "", strings.ContainsAny(v, wordBreaks):
		return quote(v)
	case strings.ContainsAny(v[:1], "+-!"), strings.HasPrefix(v, "&&"), strings.HasPrefix(v, "||"):
		return quote(v)
	case v == "AND", v == "OR", v == "NOT":
		return quote(v)
	}
	return v
}

func quote(v string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) + `"`
}
