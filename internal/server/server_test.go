package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/engramlabs/engram/internal/engine"
	"github.com/engramlabs/engram/internal/events"
	"github.com/engramlabs/engram/internal/export"
	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

// fakeEngine records calls and plays back canned results.
type fakeEngine struct {
	storedID   string
	storeErr   error
	results    []engine.ScoredMemory
	archived   []string
	ingested   int
	degraded   bool
	decayCalls int
}

func (f *fakeEngine) StoreRich(ctx context.Context, userID, content string, opts engine.StoreOptions) (string, error) {
	if userID == "" || content == "" {
		return "", fmt.Errorf("%w: missing fields", storage.ErrInvalidInput)
	}
	if f.storeErr != nil {
		return "", f.storeErr
	}
	return f.storedID, nil
}

func (f *fakeEngine) RecallRich(ctx context.Context, userID, query string, opts engine.RecallOptions) ([]engine.ScoredMemory, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}
	return f.results, nil
}

func (f *fakeEngine) IngestConversation(ctx context.Context, sessionKey, userID string, messages []types.Message) error {
	f.ingested++
	return nil
}

func (f *fakeEngine) GetProfile(ctx context.Context, userID, query, sessionKey string) (*types.Profile, error) {
	return &types.Profile{Static: []string{"user is vegetarian"}}, nil
}

func (f *fakeEngine) GetStats(ctx context.Context, userID string) (*types.UserStats, error) {
	return &types.UserStats{UserID: userID, Total: 3}, nil
}

func (f *fakeEngine) ExportMemories(ctx context.Context, userID string) (*types.Export, error) {
	return &types.Export{UserID: userID, Memories: []types.Memory{{ID: "mem_1"}}}, nil
}

func (f *fakeEngine) ArchiveMemory(ctx context.Context, id string) error {
	if id == "mem_missing" {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	f.archived = append(f.archived, id)
	return nil
}

func (f *fakeEngine) Decay(ctx context.Context, userID string) (types.DecayReport, error) {
	f.decayCalls++
	return types.DecayReport{Archived: 2, Reinforced: 1}, nil
}

func (f *fakeEngine) Reflect(ctx context.Context, userID string) (types.ReflectReport, error) {
	return types.ReflectReport{Reflected: 4, Compressed: 1}, nil
}

func (f *fakeEngine) MergeEntities(ctx context.Context, userID string) (int, error) {
	return 2, nil
}

func (f *fakeEngine) IsDegraded() bool { return f.degraded }

func newTestServer(t *testing.T, eng *fakeEngine, broadcaster *events.Broadcaster) *httptest.Server {
	t.Helper()
	srv := New(eng, broadcaster, nil, Options{RateLimit: 1000, RateBurst: 1000})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestStoreMemoryEndpoint(t *testing.T) {
	eng := &fakeEngine{storedID: "mem_abc"}
	ts := newTestServer(t, eng, nil)

	resp := postJSON(t, ts.URL+"/api/memories", storeRequest{
		UserID:  "u1",
		Content: "user is vegetarian",
		Sector:  "factual",
		Tags:    []string{"diet"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody[storeResponse](t, resp)
	assert.Equal(t, "mem_abc", body.ID)
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{}, nil)

	resp := postJSON(t, ts.URL+"/api/memories", storeRequest{UserID: "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	malformed, err := http.Post(ts.URL+"/api/memories", "application/json", strings.NewReader("{nope"))
	require.NoError(t, err)
	defer malformed.Body.Close()
	assert.Equal(t, http.StatusBadRequest, malformed.StatusCode)
}

func TestSearchEndpointReportsDegraded(t *testing.T) {
	eng := &fakeEngine{
		degraded: true,
		results: []engine.ScoredMemory{
			{Memory: types.Memory{ID: "mem_1", Content: "likes hiking"}, Breakdown: engine.ScoreBreakdown{Final: 0.8}},
		},
	}
	ts := newTestServer(t, eng, nil)

	resp := postJSON(t, ts.URL+"/api/memories/search", searchRequest{UserID: "u1", Query: "hiking"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[searchResponse](t, resp)
	assert.True(t, body.Degraded)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "mem_1", body.Results[0].Memory.ID)
}

func TestSearchEmptyResultsIsArrayNotNull(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{}, nil)

	resp := postJSON(t, ts.URL+"/api/memories/search", searchRequest{UserID: "u1", Query: "anything"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw := decodeBody[map[string]json.RawMessage](t, resp)
	assert.JSONEq(t, "[]", string(raw["results"]))
}

func TestArchiveEndpoint(t *testing.T) {
	eng := &fakeEngine{}
	ts := newTestServer(t, eng, nil)

	resp := postJSON(t, ts.URL+"/api/memories/mem_1/archive", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"mem_1"}, eng.archived)

	missing := postJSON(t, ts.URL+"/api/memories/mem_missing/archive", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestMaintenanceEndpoints(t *testing.T) {
	eng := &fakeEngine{}
	ts := newTestServer(t, eng, nil)

	decay := postJSON(t, ts.URL+"/api/maintenance/decay?user_id=u1", nil)
	require.Equal(t, http.StatusOK, decay.StatusCode)
	decayBody := decodeBody[decayResponse](t, decay)
	assert.Equal(t, 2, decayBody.Archived)
	assert.Equal(t, 1, decayBody.Reinforced)

	reflect := postJSON(t, ts.URL+"/api/maintenance/reflect?user_id=u1", nil)
	require.Equal(t, http.StatusOK, reflect.StatusCode)
	reflectBody := decodeBody[reflectResponse](t, reflect)
	assert.Equal(t, 4, reflectBody.Reflected)

	merge := postJSON(t, ts.URL+"/api/maintenance/merge?user_id=u1", nil)
	require.Equal(t, http.StatusOK, merge.StatusCode)
	mergeBody := decodeBody[mergeResponse](t, merge)
	assert.Equal(t, 2, mergeBody.Merged)

	// user_id is mandatory on maintenance routes.
	noUser := postJSON(t, ts.URL+"/api/maintenance/decay", nil)
	assert.Equal(t, http.StatusBadRequest, noUser.StatusCode)
	assert.Equal(t, 1, eng.decayCalls)
}

func TestHealthReflectsDegradedState(t *testing.T) {
	eng := &fakeEngine{}
	ts := newTestServer(t, eng, nil)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body := decodeBody[healthResponse](t, resp)
	assert.Equal(t, "healthy", body.Status)
	assert.False(t, body.Degraded)

	eng.degraded = true
	resp2, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	body2 := decodeBody[healthResponse](t, resp2)
	assert.Equal(t, "degraded", body2.Status)
	assert.True(t, body2.Degraded)
}

func TestExportEndpointWithSnapshots(t *testing.T) {
	eng := &fakeEngine{}
	exporter := export.New(eng, t.TempDir(), 3)
	srv := New(eng, nil, exporter, Options{RateLimit: 1000, RateBurst: 1000})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/export?user_id=u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[exportResponse](t, resp)
	assert.NotEmpty(t, body.Snapshot)
	require.NotNil(t, body.Export)
	assert.Equal(t, "u1", body.Export.UserID)
	assert.Len(t, body.Export.Memories, 1)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{}, nil)

	resp, err := http.Get(ts.URL + "/api/memories")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRateLimiting(t *testing.T) {
	eng := &fakeEngine{}
	srv := New(eng, nil, nil, Options{RateLimit: 1, RateBurst: 2})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var limited bool
	for i := 0; i < 10; i++ {
		resp, err := http.Get(ts.URL + "/api/health")
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst exhaustion should trip the limiter")
}

func TestWebsocketEventFeed(t *testing.T) {
	broadcaster := events.NewBroadcaster()
	defer broadcaster.Close()
	ts := newTestServer(t, &fakeEngine{}, broadcaster)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Wait for the subscription to land before publishing.
	require.Eventually(t, func() bool {
		return broadcaster.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	broadcaster.Publish(events.Event{
		Type:     events.TypeMemoryStored,
		UserID:   "u1",
		MemoryID: "mem_1",
	})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var evt events.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, events.TypeMemoryStored, evt.Type)
	assert.Equal(t, "mem_1", evt.MemoryID)
}
