package query

import (
	"context"
	"testing"

	"github.com/blevesearch/bleve/v2"
	bq "github.com/blevesearch/bleve/v2/search/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xwiki/xwiki-platform-sub060/internal/entity"
	"github.com/xwiki/xwiki-platform-sub060/internal/logging"
	"github.com/xwiki/xwiki-platform-sub060/internal/store"
)

func seedSnapshot(t *testing.T) *store.Snapshot {
	t.Helper()
	e, err := store.OpenEngine(t.TempDir(), store.Options{Analyzer: "standard", Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	pages := []*entity.Page{
		{Base: entity.Base{Tenant: "xwiki", Space: "Main", Name: "Home", Title: "Home"}, Body: "release notes for the wiki"},
		{Base: entity.Base{Tenant: "xwiki", Space: "Main", Name: "Roadmap", Title: "Roadmap"}, Body: "future plans"},
		{Base: entity.Base{Tenant: "other", Space: "Sandbox", Name: "Test", Title: "Test"}, Body: "release candidate"},
	}
	b := entity.NewBuilder()
	for _, p := range pages {
		doc, err := b.Build(context.Background(), p)
		require.NoError(t, err)
		require.NoError(t, e.Upsert(doc))
	}
	_, err = e.Commit()
	require.NoError(t, err)

	snap, err := e.OpenSnapshot()
	require.NoError(t, err)
	t.Cleanup(snap.Release)
	return snap
}

func run(t *testing.T, snap *store.Snapshot, expr string, tenants []string) []string {
	t.Helper()
	cond, err := NewBuilder(nil, "OR").Build(expr, tenants, nil)
	require.NoError(t, err)
	q, err := Compile(cond)
	require.NoError(t, err)

	res, err := snap.Search(context.Background(), bleve.NewSearchRequest(q))
	require.NoError(t, err)
	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func TestCompile_AgainstIndex(t *testing.T) {
	snap := seedSnapshot(t)

	tests := []struct {
		name    string
		expr    string
		tenants []string
		want    []string
	}{
		{"fulltext", "release", nil, []string{"xwiki:Main.Home", "other:Sandbox.Test"}},
		{"tenant filter", "release", []string{"xwiki"}, []string{"xwiki:Main.Home"}},
		{"tenant list", "release", []string{"xwiki,other"}, []string{"xwiki:Main.Home", "other:Sandbox.Test"}},
		{"prohibited", "release -candidate", nil, []string{"xwiki:Main.Home"}},
		{"negation only", "NOT release", nil, []string{"xwiki:Main.Roadmap"}},
		{"wildcard lowercased", "Road*", nil, []string{"xwiki:Main.Roadmap"}},
		{"keyword field", "space:Main", nil, []string{"xwiki:Main.Home", "xwiki:Main.Roadmap"}},
		{"prop title", "PROP title:test", nil, []string{"other:Sandbox.Test"}},
		{"match all", "*:*", []string{"other"}, []string{"other:Sandbox.Test"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, run(t, snap, tt.expr, tt.tenants))
		})
	}
}

func TestCompile_QueryShapes(t *testing.T) {
	q, err := Compile(&Compare{Field: entity.FieldTenant, Value: "xwiki", Op: OpMatch})
	require.NoError(t, err)
	assert.IsType(t, &bq.TermQuery{}, q)

	q, err = Compile(&Compare{Field: entity.FieldTitle, Value: "a b", Op: OpPhrase})
	require.NoError(t, err)
	assert.IsType(t, &bq.MatchPhraseQuery{}, q)

	q, err = Compile(&In{Field: entity.FieldLocale, Values: []string{"en", "fr"}})
	require.NoError(t, err)
	assert.IsType(t, &bq.DisjunctionQuery{}, q)

	q, err = Compile(nil)
	require.NoError(t, err)
	assert.IsType(t, &bq.MatchAllQuery{}, q)
}
