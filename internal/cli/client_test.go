package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/engine"
	"github.com/engramlabs/engram/pkg/types"
)

func TestClientDecodesAPIErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "user_id is required"})
	}))
	defer ts.Close()

	c := &client{base: ts.URL, http: ts.Client()}
	err := c.postJSON(context.Background(), "/api/memories", map[string]string{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_id is required")
}

func TestAPISinkPostsNoteFields(t *testing.T) {
	var got map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/memories", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "mem_123"})
	}))
	defer ts.Close()

	sink := &apiSink{client: &client{base: ts.URL, http: ts.Client()}}
	eventAt := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	id, err := sink.StoreRich(context.Background(), "u1", "# Sourdough\nNotes.", engine.StoreOptions{
		Sector:  types.SectorSemantic,
		Tags:    []string{"baking", "kitchen"},
		EventAt: eventAt,
	})
	require.NoError(t, err)
	assert.Equal(t, "mem_123", id)

	assert.Equal(t, "u1", got["user_id"])
	assert.Equal(t, "semantic", got["sector"])
	assert.Equal(t, []interface{}{"baking", "kitchen"}, got["tags"])
	assert.Equal(t, eventAt.Format(time.RFC3339), got["event_at"])
	_, hasValidUntil := got["valid_until"]
	assert.False(t, hasValidUntil)
}

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitTags(" a, b ,"))
	assert.Nil(t, splitTags(""))
	assert.Nil(t, splitTags(" , "))
}
