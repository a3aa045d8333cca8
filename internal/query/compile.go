package query

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	bq "github.com/blevesearch/bleve/v2/search/query"

	"github.com/xwiki/xwiki-platform-sub060/internal/entity"
)

// Compile converts a condition tree into a bleve query.
func Compile(c Condition) (bq.Query, error) {
	switch n := c.(type) {
	case nil:
		return bleve.NewMatchAllQuery(), nil
	case *All:
		return bleve.NewMatchAllQuery(), nil
	case *Compare:
		return compileCompare(n), nil
	case *In:
		terms := make([]bq.Query, len(n.Values))
		for i, v := range n.Values {
			terms[i] = compileCompare(&Compare{Field: n.Field, Value: v, Op: OpTerm})
		}
		return bleve.NewDisjunctionQuery(terms...), nil
	case *Group:
		return compileGroup(n)
	default:
		return nil, fmt.Errorf("unknown condition %T", c)
	}
}

func compileCompare(c *Compare) bq.Query {
	keyword := entity.IsKeywordField(c.Field)

	switch {
	case c.Op == OpWildcard:
		v := c.Value
		if !keyword {
			v = strings.ToLower(v)
		}
		q := bleve.NewWildcardQuery(v)
		q.SetField(c.Field)
		return q
	case c.Op == OpTerm || keyword:
		q := bleve.NewTermQuery(c.Value)
		q.SetField(c.Field)
		return q
	case c.Op == OpPhrase:
		q := bleve.NewMatchPhraseQuery(c.Value)
		q.SetField(c.Field)
		return q
	default:
		q := bleve.NewMatchQuery(c.Value)
		q.SetField(c.Field)
		return q
	}
}

func compileGroup(g *Group) (bq.Query, error) {
	var inner bq.Query

	if g.Op == Or {
		children := make([]bq.Query, 0, len(g.Children))
		for _, c := range g.Children {
			q, err := Compile(c)
			if err != nil {
				return nil, err
			}
			children = append(children, q)
		}
		inner = bleve.NewDisjunctionQuery(children...)
	} else {
		// Negated children become must-not clauses of one boolean query.
		var must, mustNot []bq.Query
		for _, c := range g.Children {
			if child, ok := c.(*Group); ok && child.Negate {
				q, err := compileGroup(&Group{Op: child.Op, Children: child.Children})
				if err != nil {
					return nil, err
				}
				mustNot = append(mustNot, q)
				continue
			}
			q, err := Compile(c)
			if err != nil {
				return nil, err
			}
			must = append(must, q)
		}

		if len(mustNot) == 0 {
			inner = bleve.NewConjunctionQuery(must...)
		} else {
			b := bleve.NewBooleanQuery()
			if len(must) == 0 {
				must = append(must, bleve.NewMatchAllQuery())
			}
			b.AddMust(must...)
			b.AddMustNot(mustNot...)
			inner = b
		}
	}

	if !g.Negate {
		return inner, nil
	}
	b := bleve.NewBooleanQuery()
	b.AddMust(bleve.NewMatchAllQuery())
	b.AddMustNot(inner)
	return b, nil
}
