package document

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/resume/pkg/snapshot"
)

func encode(t *testing.T, roots map[string]any) *snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.Encode(roots)
	require.NoError(t, err)
	return snap
}

func rootString(t *testing.T, snap *snapshot.Snapshot, name string) string {
	t.Helper()
	g, err := snapshot.Decode(snap)
	require.NoError(t, err)
	v, err := g.Root(name)
	require.NoError(t, err)
	return v.(string)
}

func TestWriteRead(t *testing.T) {
	snap := encode(t, map[string]any{"title": "hello"})

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "c1", snap))
	assert.True(t, strings.HasPrefix(buf.String(), `<script type="resume/json" data-container="c1">`))

	page := "<!DOCTYPE html><html><body><p>hi</p>" + buf.String() + "</body></html>"
	got, err := Read(strings.NewReader(page), "c1")
	require.NoError(t, err)
	assert.Equal(t, "hello", rootString(t, got, "title"))
}

func TestScriptContentIsEscaped(t *testing.T) {
	hostile := `</script><script>alert(1)</script>`
	snap := encode(t, map[string]any{"title": hostile})

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "c1", snap))
	assert.Equal(t, 1, strings.Count(buf.String(), "</script>"))
	assert.NotContains(t, buf.String(), "<script>alert")

	got, err := Read(&buf, "c1")
	require.NoError(t, err)
	assert.Equal(t, hostile, rootString(t, got, "title"))
}

func TestAnchorIsAttributeEscaped(t *testing.T) {
	snap := encode(t, map[string]any{"x": "y"})
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, `a"b`, snap))
	assert.Contains(t, buf.String(), `data-container="a&quot;b"`)

	got, err := Read(&buf, `a"b`)
	require.NoError(t, err)
	assert.Equal(t, "y", rootString(t, got, "x"))
}

func TestReadMissing(t *testing.T) {
	_, err := Read(strings.NewReader("<html><body></body></html>"), "c1")
	require.True(t, errors.Is(err, ErrNotFound))

	_, err = Read(strings.NewReader("<html></html>"), "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReadMalformedScript(t *testing.T) {
	page := `<html><body><script type="resume/json" data-container="c1">{oops</script></body></html>`
	_, err := Read(strings.NewReader(page), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `container "c1"`)
}

func TestEmbedReplacesExisting(t *testing.T) {
	first := encode(t, map[string]any{"v": "one"})
	second := encode(t, map[string]any{"v": "two"})
	other := encode(t, map[string]any{"v": "other"})

	var page bytes.Buffer
	require.NoError(t, Embed(&page, strings.NewReader("<html><head></head><body><main></main></body></html>"), "a", first))

	var next bytes.Buffer
	require.NoError(t, Embed(&next, &page, "b", other))
	var last bytes.Buffer
	require.NoError(t, Embed(&last, &next, "a", second))

	all, err := ReadAll(bytes.NewReader(last.Bytes()))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "two", rootString(t, all["a"], "v"))
	assert.Equal(t, "other", rootString(t, all["b"], "v"))
	assert.Contains(t, last.String(), "<main></main>")
}

func TestReadAllRejectsDuplicates(t *testing.T) {
	snap := encode(t, map[string]any{"v": "x"})
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "a", snap))
	require.NoError(t, Write(&buf, "a", snap))

	_, err := ReadAll(&buf)
	require.Error(t, err)
}
