package query

import (
	"fmt"
	"strings"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
)

// modifier is the +/- prefix of a clause.
type modifier int

const (
	modNone modifier = iota
	modRequired
	modProhibited
)

type clause struct {
	cond Condition
	mod  modifier
}

// parser is a recursive-descent parser over:
//
//	or      := and ((OR | implicit) and)*
//	and     := unary ((AND | implicit) unary)*
//	unary   := (NOT | !) unary | (+ | -) primary | primary
//	primary := [field:] (term | "phrase" | '(' or ')')
//
// Juxtaposed clauses are joined by the default operator.
type parser struct {
	toks  []token
	pos   int
	defOp BoolOp
	// fields are searched by clauses without an explicit field. More than
	// one field expands each clause into an OR across them.
	fields []string
}

// Parse parses expr, searching fields for unqualified clauses and joining
// juxtaposed clauses with defOp.
func Parse(expr string, fields []string, defOp BoolOp) (Condition, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, wserrors.New(wserrors.ErrCodeQueryEmpty, "query expression is empty", nil)
	}
	if len(fields) == 0 {
		return nil, wserrors.InternalError("no default search field", nil)
	}
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	if defOp != And {
		defOp = Or
	}

	p := &parser{toks: toks, defOp: defOp, fields: fields}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.unexpected(t)
	}
	return cond, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) unexpected(t token) error {
	if t.kind == tokEOF {
		return wserrors.QuerySyntaxError("unexpected end of query", t.pos)
	}
	return wserrors.QuerySyntaxError(fmt.Sprintf("unexpected %q", t.text), t.pos)
}

// startsClause reports whether t can begin a clause, which makes it an
// implicit operator position.
func startsClause(t token) bool {
	switch t.kind {
	case tokTerm, tokPhrase, tokField, tokNot, tokPlus, tokMinus, tokLParen:
		return true
	}
	return false
}

func (p *parser) parseOr() (Condition, error) {
	var clauses []clause
	for {
		c, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)

		t := p.peek()
		if t.kind == tokOr {
			p.next()
			continue
		}
		if p.defOp == Or && startsClause(t) {
			continue
		}
		break
	}
	return combineOr(clauses), nil
}

// combineOr joins OR-level clauses. Required and prohibited clauses decide
// which documents match; optional clauses only count when nothing is required.
func combineOr(clauses []clause) Condition {
	if len(clauses) == 1 && clauses[0].mod == modNone {
		return clauses[0].cond
	}

	var required, prohibited, optional []Condition
	for _, c := range clauses {
		switch c.mod {
		case modRequired:
			required = append(required, c.cond)
		case modProhibited:
			prohibited = append(prohibited, Not(c.cond))
		default:
			optional = append(optional, c.cond)
		}
	}

	if len(required) == 0 && len(prohibited) == 0 {
		return &Group{Op: Or, Children: optional}
	}
	parts := required
	if len(required) == 0 {
		parts = append(parts, Join(Or, optional...))
	}
	return Join(And, append(parts, prohibited...)...)
}

func (p *parser) parseAnd() (clause, error) {
	first, err := p.parseUnary()
	if err != nil {
		return clause{}, err
	}
	children := []clause{first}

	for {
		t := p.peek()
		if t.kind == tokAnd {
			p.next()
		} else if !(p.defOp == And && startsClause(t)) {
			break
		}
		c, err := p.parseUnary()
		if err != nil {
			return clause{}, err
		}
		children = append(children, c)
	}

	if len(children) == 1 {
		return first, nil
	}
	conds := make([]Condition, len(children))
	for i, c := range children {
		conds[i] = c.cond
		if c.mod == modProhibited {
			conds[i] = Not(c.cond)
		}
	}
	return clause{cond: &Group{Op: And, Children: conds}}, nil
}

func (p *parser) parseUnary() (clause, error) {
	switch t := p.peek(); t.kind {
	case tokNot:
		p.next()
		c, err := p.parseUnary()
		if err != nil {
			return clause{}, err
		}
		inner := c.cond
		if c.mod == modProhibited {
			inner = Not(inner)
		}
		return clause{cond: Not(inner)}, nil
	case tokPlus, tokMinus:
		p.next()
		cond, err := p.parsePrimary(p.fields)
		if err != nil {
			return clause{}, err
		}
		mod := modRequired
		if t.kind == tokMinus {
			mod = modProhibited
		}
		return clause{cond: cond, mod: mod}, nil
	default:
		cond, err := p.parsePrimary(p.fields)
		if err != nil {
			return clause{}, err
		}
		return clause{cond: cond}, nil
	}
}

func (p *parser) parsePrimary(fields []string) (Condition, error) {
	t := p.next()
	switch t.kind {
	case tokField:
		if t.text == "" {
			return nil, wserrors.QuerySyntaxError("missing field name before ':'", t.pos)
		}
		if t.text == "*" && p.peek().kind == tokTerm && p.peek().text == "*" {
			p.next()
			return &All{}, nil
		}
		return p.parsePrimary([]string{t.text})
	case tokTerm:
		return leaf(fields, t.text, termOp(t.text)), nil
	case tokPhrase:
		return leaf(fields, t.text, OpPhrase), nil
	case tokLParen:
		saved := p.fields
		p.fields = fields
		cond, err := p.parseOr()
		p.fields = saved
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, wserrors.QuerySyntaxError("missing closing parenthesis", closing.pos)
		}
		return cond, nil
	default:
		return nil, p.unexpected(t)
	}
}

func termOp(text string) CompareOp {
	if strings.ContainsAny(text, "*?") {
		return OpWildcard
	}
	return OpMatch
}

// leaf builds a comparison of value against each field, ORed.
func leaf(fields []string, value string, op CompareOp) Condition {
	if len(fields) == 1 {
		return &Compare{Field: fields[0], Value: value, Op: op}
	}
	children := make([]Condition, len(fields))
	for i, f := range fields {
		children[i] = &Compare{Field: f, Value: value, Op: op}
	}
	return &Group{Op: Or, Children: children}
}
