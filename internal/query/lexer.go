package query

import (
	"strings"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokTerm
	tokPhrase
	tokField
	tokAnd
	tokOr
	tokNot
	tokPlus
	tokMinus
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits a user expression into tokens. Words end at whitespace, parens,
// quotes and colons; a word followed by ':' is a field name. Backslash
// escapes the next character inside words and phrases.
func lex(input string) ([]token, error) {
	var toks []token
	r := []rune(input)
	i := 0

	for i < len(r) {
		c := r[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '&' && i+1 < len(r) && r[i+1] == '&':
			toks = append(toks, token{tokAnd, "&&", i})
			i += 2
		case c == '|' && i+1 < len(r) && r[i+1] == '|':
			toks = append(toks, token{tokOr, "||", i})
			i += 2
		case c == '!':
			toks = append(toks, token{tokNot, "!", i})
			i++
		case (c == '+' || c == '-') && isPrefixOperator(r, i, toks):
			kind := tokPlus
			if c == '-' {
				kind = tokMinus
			}
			toks = append(toks, token{kind, string(c), i})
			i++
		case c == '"':
			start := i
			var sb strings.Builder
			i++
			closed := false
			for i < len(r) {
				if r[i] == '\\' && i+1 < len(r) {
					sb.WriteRune(r[i+1])
					i += 2
					continue
				}
				if r[i] == '"' {
					closed = true
					i++
					break
				}
				sb.WriteRune(r[i])
				i++
			}
			if !closed {
				return nil, wserrors.QuerySyntaxError("unterminated phrase", start)
			}
			toks = append(toks, token{tokPhrase, sb.String(), start})
		case c == ':':
			return nil, wserrors.QuerySyntaxError("missing field name before ':'", i)
		default:
			start := i
			var sb strings.Builder
			for i < len(r) && !strings.ContainsRune(" \t\n\r()\":", r[i]) {
				if r[i] == '\\' && i+1 < len(r) {
					sb.WriteRune(r[i+1])
					i += 2
					continue
				}
				sb.WriteRune(r[i])
				i++
			}
			word := sb.String()
			if i < len(r) && r[i] == ':' {
				toks = append(toks, token{tokField, word, start})
				i++
				continue
			}
			switch word {
			case "AND":
				toks = append(toks, token{tokAnd, word, start})
			case "OR":
				toks = append(toks, token{tokOr, word, start})
			case "NOT":
				toks = append(toks, token{tokNot, word, start})
			default:
				toks = append(toks, token{tokTerm, word, start})
			}
		}
	}

	return append(toks, token{tokEOF, "", len(r)}), nil
}

// isPrefixOperator reports whether the +/- at i starts a clause rather than
// sitting inside a word such as "e-mail". It must be followed by something.
func isPrefixOperator(r []rune, i int, toks []token) bool {
	if i+1 >= len(r) || r[i+1] == ' ' || r[i+1] == '\t' {
		return false
	}
	if len(toks) > 0 && toks[len(toks)-1].kind == tokField && toks[len(toks)-1].pos+len([]rune(toks[len(toks)-1].text))+1 == i {
		return false
	}
	return true
}
