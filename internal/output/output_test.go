package output

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/index"
	"github.com/xwiki/xwiki-platform-sub060/internal/search"
	"github.com/xwiki/xwiki-platform-sub060/internal/telemetry"
)

func TestNew_NonTerminalWriter_IsPlain(t *testing.T) {
	// Given: a buffer, which is never a terminal
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a success message
	w.Success("Index complete")

	// Then: no escape sequences are written
	assert.Equal(t, "✓ Index complete\n", buf.String())
	assert.False(t, IsTTY(buf))
}

func TestWriter_StatusLines(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Warningf("%d pending", 3)
	w.Errorf("failed: %s", "disk")
	w.Status("", "indented")

	assert.Equal(t, "! 3 pending\n✗ failed: disk\n   indented\n", buf.String())
}

func TestWriter_Err_PrintsHintAndCode(t *testing.T) {
	// Given: a coded error with a suggestion
	buf := &bytes.Buffer{}
	w := New(buf)
	err := wserrors.New(wserrors.ErrCodeNoIndexDirs, "no index directory configured", nil).
		WithSuggestion("set index.dirs")

	// When: printing it
	w.Err(err)
	w.Err(nil)

	// Then: message, hint and code are on separate lines
	out := buf.String()
	assert.Contains(t, out, "Error: no index directory configured\n")
	assert.Contains(t, out, "Hint: set index.dirs\n")
	assert.Contains(t, out, "Code: ERR_103_NO_INDEX_DIRS\n")
}

func TestWriter_Err_PlainErrorIsInternal(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Err(errors.New("boom"))

	assert.Contains(t, buf.String(), "Error: boom")
	assert.Contains(t, buf.String(), "ERR_501_INTERNAL")
}

func TestWriter_Hits_NumbersFromOffsetAndListsFields(t *testing.T) {
	// Given: a second page of results
	buf := &bytes.Buffer{}
	w := New(buf)
	res := &search.Result{
		Hits: []*search.Hit{
			{ID: "xwiki:Main.A", Score: 1.5, Fields: map[string]any{"title": "Alpha", "tags": []any{"x", "y"}}},
			{ID: "xwiki:Main.B", Score: 0.25, Fields: map[string]any{"title": "Beta"}},
		},
		Total:    12,
		Searched: 2,
		Failed:   1,
		Took:     3 * time.Millisecond,
	}

	// When: printing with an offset of 10
	w.Hits(res, 10, nil)

	// Then: ranks continue from the offset and fields are listed
	out := buf.String()
	assert.Contains(t, out, " 11. xwiki:Main.A 1.500")
	assert.Contains(t, out, " 12. xwiki:Main.B 0.250")
	assert.Contains(t, out, "tags: x, y")
	assert.Contains(t, out, "title: Alpha")
	assert.Contains(t, out, "2 of 12 hits from 2 directories")
	assert.Contains(t, out, "1 directory could not be searched")
}

func TestWriter_Hits_SelectedFieldsOnly(t *testing.T) {
	buf := &bytes.Buffer{}
	res := &search.Result{Hits: []*search.Hit{
		{ID: "a", Fields: map[string]any{"title": "T", "space": "Main"}},
	}, Total: 1, Searched: 1}

	New(buf).Hits(res, 0, []string{"space", "missing"})

	assert.Contains(t, buf.String(), "space: Main")
	assert.NotContains(t, buf.String(), "title")
	assert.NotContains(t, buf.String(), "missing")
}

func TestWriter_Hits_Empty(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Hits(&search.Result{}, 0, nil)
	assert.Contains(t, buf.String(), "No results.")
}

func TestWriter_Handles_MarksWriterAndUnavailable(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Handles([]search.HandleInfo{
		{Dir: "/idx/a", Generation: 3, Docs: 42, Open: true},
		{Dir: "/idx/b"},
	})

	out := buf.String()
	assert.Contains(t, out, "✓ /idx/a (write, generation 3, 42 docs)")
	assert.Contains(t, out, "✗ /idx/b (read, unavailable)")
}

func TestWriter_Stats_ShowsFailuresOnlyWhenPresent(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Stats(index.Stats{State: index.StateIdle, Generation: 2, Processed: 7, Commits: 1})
	assert.Contains(t, buf.String(), "idle")
	assert.NotContains(t, buf.String(), "failures")

	buf.Reset()
	w.Stats(index.Stats{State: index.StateWriting, FailedBuilds: 2, FailedWrites: 1, Rebuilding: true})
	assert.Contains(t, buf.String(), "2 builds, 1 writes, 0 commits")
	assert.Contains(t, buf.String(), "in progress")
}

func TestWriter_Queries(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Queries(telemetry.Snapshot{})
	assert.Contains(t, buf.String(), "total")
	assert.NotContains(t, buf.String(), "latency")

	buf.Reset()
	w.Queries(telemetry.Snapshot{
		TotalQueries:    4,
		ZeroResultCount: 1,
		FailedQueries:   1,
		Latency:         map[telemetry.LatencyBucket]int64{telemetry.BucketP10: 3, telemetry.BucketP500: 1},
		TopTerms:        []telemetry.TermCount{{Term: "release", Count: 2}},
	})
	out := buf.String()
	assert.Contains(t, out, "1 (25.0%)")
	assert.Contains(t, out, "1 failed, 0 partial")
	assert.Contains(t, out, "p10=3 p500=1")
	assert.Contains(t, out, "release (2)")
}
