package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xwiki/xwiki-platform-sub060/internal/daemon"
)

// newProject returns a project directory with no configuration file and a
// separate directory of files to import.
func newProject(t *testing.T) (project, docs string) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	project = t.TempDir()
	docs = t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(docs, name), []byte(body), 0o644))
	}
	write("release.txt", "Release notes for the spring version")
	write("guide.md", "A user guide about editing pages")
	write("logo.png", "\x89PNG\r\n\x1a\n")
	write(".hidden.txt", "release secrets")
	return project, docs
}

func searchJSON(t *testing.T, project string, args ...string) *daemon.SearchResult {
	t.Helper()
	out, err := runCLI(t, append([]string{"-C", project, "search", "--format", "json"}, args...)...)
	require.NoError(t, err, out)

	var res daemon.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	return &res
}

func hitIDs(res *daemon.SearchResult) []string {
	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func TestWorkflow_ImportIndexSearch(t *testing.T) {
	// Given: a project and a directory of files
	project, docs := newProject(t)

	// When: importing the files
	out, err := runCLI(t, "-C", project, "import", docs)

	// Then: text files become pages and the image an attachment of WebHome
	require.NoError(t, err, out)
	assert.Contains(t, out, "Imported 3 pages and 1 attachment")
	assert.Contains(t, out, "wikisearch index")

	// When: indexing into a new index
	out, err = runCLI(t, "-C", project, "index")

	// Then: all content is indexed
	require.NoError(t, err, out)
	assert.Contains(t, out, "New index")
	assert.Contains(t, out, "Indexed into")

	// When: searching for a word in one page
	res := searchJSON(t, project, "release")

	// Then: only that page matches; the hidden file was never imported
	assert.Equal(t, []string{"xwiki:Main.release"}, hitIDs(res))
	assert.Equal(t, 1, res.Searched)
	assert.Zero(t, res.Failed)

	// And: a tenant filter that matches nothing returns no hits
	res = searchJSON(t, project, "release", "--tenant", "other")
	assert.Empty(t, res.Hits)
}

func TestWorkflow_RebuildKeepsContentSearchable(t *testing.T) {
	project, docs := newProject(t)
	_, err := runCLI(t, "-C", project, "import", docs)
	require.NoError(t, err)
	_, err = runCLI(t, "-C", project, "index")
	require.NoError(t, err)

	out, err := runCLI(t, "-C", project, "rebuild")
	require.NoError(t, err, out)
	assert.Contains(t, out, "published")

	res := searchJSON(t, project, "guide")
	assert.Equal(t, []string{"xwiki:Main.guide"}, hitIDs(res))
}

func TestWorkflow_StatusWithoutServer(t *testing.T) {
	project, docs := newProject(t)
	_, err := runCLI(t, "-C", project, "import", docs)
	require.NoError(t, err)
	_, err = runCLI(t, "-C", project, "index")
	require.NoError(t, err)

	out, err := runCLI(t, "-C", project, "status")

	require.NoError(t, err, out)
	assert.Contains(t, out, "Not serving")
	assert.Contains(t, out, filepath.Join(project, ".wikisearch", "index"))
	assert.Contains(t, out, "write, generation")
}

func TestWorkflow_TextOutputListsHits(t *testing.T) {
	project, docs := newProject(t)
	_, err := runCLI(t, "-C", project, "import", docs)
	require.NoError(t, err)
	_, err = runCLI(t, "-C", project, "index")
	require.NoError(t, err)

	out, err := runCLI(t, "-C", project, "search", "editing", "pages")

	require.NoError(t, err, out)
	assert.Contains(t, out, "  1. xwiki:Main.guide")
	assert.Contains(t, out, "hits from 1 directory")
}

func TestIndexCmd_DeleteNeedsPage(t *testing.T) {
	project, _ := newProject(t)

	_, err := runCLI(t, "-C", project, "index", "--delete")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--page")
}

func TestIndexOptions_PageParams(t *testing.T) {
	o := indexOptions{tenants: []string{"xwiki"}, page: "Main.Sub.Home", locale: "fr"}

	p, err := o.pageParams()

	require.NoError(t, err)
	assert.Equal(t, daemon.EnqueueParams{Tenant: "xwiki", Space: "Main.Sub", Name: "Home", Locale: "fr"}, p)

	_, err = indexOptions{page: "Main.Home"}.pageParams()
	assert.Error(t, err)
	_, err = indexOptions{tenants: []string{"xwiki"}, page: "Home"}.pageParams()
	assert.Error(t, err)
}

func TestImportCmd_RejectsFile(t *testing.T) {
	project, docs := newProject(t)

	_, err := runCLI(t, "-C", project, "import", filepath.Join(docs, "release.txt"))

	assert.Error(t, err)
}

func TestWorkflow_IndexOnlyNewPicksUpImportedPages(t *testing.T) {
	// Given: an indexed project
	project, docs := newProject(t)
	_, err := runCLI(t, "-C", project, "import", docs)
	require.NoError(t, err)
	_, err = runCLI(t, "-C", project, "index")
	require.NoError(t, err)

	// When: another file is imported and only new entities are indexed
	more := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(more, "minutes.txt"), []byte("Minutes of the summit"), 0o644))
	_, err = runCLI(t, "-C", project, "import", more)
	require.NoError(t, err)
	out, err := runCLI(t, "-C", project, "index", "--only-new")

	// Then: the new page is searchable next to the old ones
	require.NoError(t, err, out)
	assert.Contains(t, out, "Indexed into")
	assert.Equal(t, []string{"xwiki:Main.minutes"}, hitIDs(searchJSON(t, project, "summit")))
	assert.Equal(t, []string{"xwiki:Main.guide"}, hitIDs(searchJSON(t, project, "guide")))
}

func TestIndexCmd_OnlyNewRejectsPage(t *testing.T) {
	project, _ := newProject(t)

	_, err := runCLI(t, "-C", project, "index", "--only-new", "--page", "Main.WebHome", "--tenant", "xwiki")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--only-new")
}
