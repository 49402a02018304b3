package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/scenecast/internal/engine"
	"github.com/danmuck/scenecast/internal/protocol/session"
	"github.com/danmuck/scenecast/internal/scene"
	"github.com/danmuck/scenecast/internal/sprites"
	"github.com/danmuck/scenecast/internal/testutil/testlog"
)

type fakeProcess struct {
	mu    sync.Mutex
	tree  *scene.Tree
	ready bool
	err   error
}

func (f *fakeProcess) Do(_ context.Context, fn func(*scene.Tree) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return fn(f.tree)
}

func newFake(t *testing.T) (*fakeProcess, *scene.Node) {
	t.Helper()
	reg, err := sprites.NewRegistry()
	require.NoError(t, err)
	tree, err := scene.NewTree(scene.RoleProducer, reg)
	require.NoError(t, err)
	panel, err := tree.NewNode(1, tree.Root())
	require.NoError(t, err)
	text, err := sprites.NewText(tree, panel)
	require.NoError(t, err)
	text.SetText("status")
	return &fakeProcess{tree: tree, ready: true}, panel
}

func newTestServer(f *fakeProcess, consumers func() []session.PeerInfo) *Server {
	return New(Source{
		Name:      "wall-1",
		Role:      "producer",
		Version:   "test",
		Ready:     func() bool { return f.ready },
		Do:        f.Do,
		Stats:     func() any { return map[string]int{"ticks": 7} },
		Consumers: consumers,
	}, nil)
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	}
	return rr, body
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	f, _ := newFake(t)
	s := newTestServer(f, nil)

	rr, body := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "wall-1", body["service"])
	assert.Equal(t, "producer", body["role"])

	rr, body = get(t, s, "/ready")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["ready"])

	f.ready = false
	rr, body = get(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, false, body["ready"])

	rr, body = get(t, s, "/stats")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 7, body["ticks"])
}

func TestTreeAndNodes(t *testing.T) {
	testlog.Start(t)
	f, panel := newFake(t)
	s := newTestServer(f, nil)

	rr, body := get(t, s, "/tree")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, scene.RootID, body["id"])
	children, ok := body["children"].([]any)
	require.True(t, ok)
	assert.Len(t, children, 1)

	rr, body = get(t, s, "/nodes/"+strconv.FormatUint(uint64(panel.ID()), 10))
	require.Equal(t, http.StatusOK, rr.Code)
	node, ok := body["node"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, panel.ID(), node["id"])
	assert.Nil(t, node["children"], "node views are shallow")
	assert.Len(t, body["children"], 1)

	cases := []struct {
		path string
		code int
	}{
		{"/nodes/0", http.StatusBadRequest},
		{"/nodes/abc", http.StatusBadRequest},
		{"/nodes/99999999999", http.StatusBadRequest},
		{"/nodes/4242", http.StatusNotFound},
	}
	for _, tc := range cases {
		rr, _ := get(t, s, tc.path)
		assert.Equal(t, tc.code, rr.Code, tc.path)
	}

	rr, body = get(t, s, "/orphans")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, body["orphans"])
}

func TestStoppedSourceIsUnavailable(t *testing.T) {
	testlog.Start(t)
	f, _ := newFake(t)
	f.err = engine.ErrStopped
	s := newTestServer(f, nil)

	rr, _ := get(t, s, "/tree")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	f.err = context.DeadlineExceeded
	rr, _ = get(t, s, "/orphans")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestConsumersRouteOnlyOnProducers(t *testing.T) {
	testlog.Start(t)
	f, _ := newFake(t)
	joined := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newTestServer(f, func() []session.PeerInfo {
		return []session.PeerInfo{{SessionID: "s1", ConsumerID: "c1", Transport: session.TransportTCP, JoinedAt: joined}}
	})

	rr, body := get(t, s, "/consumers")
	require.Equal(t, http.StatusOK, rr.Code)
	consumers, ok := body["consumers"].([]any)
	require.True(t, ok)
	require.Len(t, consumers, 1)
	assert.Equal(t, "c1", consumers[0].(map[string]any)["consumer_id"])

	mirror := New(Source{Name: "mirror-1", Role: "mirror", Do: f.Do}, []string{"http://wall.local"})
	rr, _ = get(t, mirror, "/consumers")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr, _ = get(t, mirror, "/stats")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr, _ = get(t, mirror, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
