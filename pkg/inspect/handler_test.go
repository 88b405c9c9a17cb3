package inspect

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/resume/pkg/document"
	"github.com/vango-dev/resume/pkg/snapshot"
	"github.com/vango-dev/resume/pkg/store"
)

const counterSnapshot = `{"v":1,"epoch":1,"container":"c1","roots":{"state":0},"subs":[4],"deferred":[],"entries":[["P",1],["o","count",2,"doubled",3],["i",5],["i",10],["T",5,0,"count"],["q","app/counter.js","double",0]]}`

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(store.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = st.Close() })
	cfg.Store = st
	srv := httptest.NewServer(NewHandler(cfg))
	t.Cleanup(srv.Close)
	return srv, st
}

func do(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readAll(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}

func TestHandler_PutGetGraph(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	resp := do(t, http.MethodPut, srv.URL+"/snapshots/c1", strings.NewReader(counterSnapshot))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/snapshots", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Snapshots []string `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(readAll(t, resp), &list))
	assert.Equal(t, []string{"c1"}, list.Snapshots)

	resp = do(t, http.MethodGet, srv.URL+"/snapshots/c1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, counterSnapshot, string(readAll(t, resp)))

	resp = do(t, http.MethodGet, srv.URL+"/snapshots/c1/graph", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary Summary
	require.NoError(t, json.Unmarshal(readAll(t, resp), &summary))
	assert.Equal(t, "c1", summary.Container)
	assert.Equal(t, 6, summary.Entries)
	require.Len(t, summary.Subscribers, 1)
	sub := summary.Subscribers[0]
	assert.Equal(t, "task", sub.Kind)
	assert.Equal(t, "app/counter.js", sub.Module)
	assert.Equal(t, "double", sub.Export)
	assert.Equal(t, []DepInfo{{Index: 0, Tag: "P", Key: "count"}}, sub.Deps)
}

func TestHandler_CBORAndDocument(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	do(t, http.MethodPut, srv.URL+"/snapshots/c1", strings.NewReader(counterSnapshot))

	resp := do(t, http.MethodGet, srv.URL+"/snapshots/c1?format=cbor", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/cbor", resp.Header.Get("Content-Type"))
	snap, err := snapshot.UnmarshalCBOR(readAll(t, resp))
	require.NoError(t, err)
	assert.Equal(t, 6, snap.Len())

	resp = do(t, http.MethodGet, srv.URL+"/snapshots/c1?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/snapshots/c1/document", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := readAll(t, resp)
	assert.Contains(t, string(page), `data-container="c1"`)
	got, err := document.Read(bytes.NewReader(page), "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Epoch)
}

func TestHandler_Errors(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	resp := do(t, http.MethodGet, srv.URL+"/snapshots/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPut, srv.URL+"/snapshots/bad", strings.NewReader(`{"v":9}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	unknown := `{"v":1,"epoch":1,"container":"c1","roots":{"x":0},"subs":[],"deferred":[],"entries":[["Z"]]}`
	resp = do(t, http.MethodPut, srv.URL+"/snapshots/unknown", strings.NewReader(unknown))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(readAll(t, resp)), "unknown tag")
	resp = do(t, http.MethodGet, srv.URL+"/snapshots/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	do(t, http.MethodPut, srv.URL+"/snapshots/c1", strings.NewReader(counterSnapshot))
	resp = do(t, http.MethodDelete, srv.URL+"/snapshots/c1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodGet, srv.URL+"/snapshots/c1/graph", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_ReadOnly(t *testing.T) {
	srv, _ := newTestServer(t, Config{ReadOnly: true})
	resp := do(t, http.MethodPut, srv.URL+"/snapshots/c1", strings.NewReader(counterSnapshot))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "inspect_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv, _ := newTestServer(t, Config{Gatherer: reg})

	resp := do(t, http.MethodGet, srv.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(readAll(t, resp)))

	resp = do(t, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(readAll(t, resp)), "inspect_test_total 1")
}

func TestSummaryWriteText(t *testing.T) {
	snap, err := snapshot.Parse([]byte(counterSnapshot))
	require.NoError(t, err)
	summary, err := Summarize(snap)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, summary.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "app/counter.js#double")
	assert.Contains(t, out, "state")
	assert.Equal(t, 2, summary.Tags["i"])
}

func TestSummarizeRejectsNonSubscriber(t *testing.T) {
	snap, err := snapshot.Parse([]byte(`{"v":1,"epoch":0,"container":"","roots":{},"subs":[0],"deferred":[],"entries":[["s","x"]]}`))
	require.NoError(t, err)
	_, err = Summarize(snap)
	require.Error(t, err)
}
