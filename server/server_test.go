package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	feedpulse "github.com/hupe1980/feedpulse"
	"github.com/hupe1980/feedpulse/kvstore"
	"github.com/hupe1980/feedpulse/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	engine, err := feedpulse.New(kvstore.NewMemoryStore(), feedpulse.WithLogger(feedpulse.NoopLogger()))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, engine.Close())
	})

	return New(HTTPConfig{
		Addr:         ":0",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}, engine, feedpulse.NoopLogger())
}

func doJSON(t *testing.T, srv *Server, method, target string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, target, &buf)
	req.RemoteAddr = "203.0.113.7:1234"

	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))

	return rec, env
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec, env := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestIngestEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec, env := doJSON(t, srv, http.MethodPost, "/api/feeds", model.Feed{
		ID:     "f1",
		Name:   "Main St Sensor",
		Type:   model.FeedTypeTraffic,
		Region: "Downtown",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	rec, env = doJSON(t, srv, http.MethodPost, "/api/events", model.IngestRequest{
		FeedID:  "f1",
		Payload: map[string]any{"speed": 40.0, "location": "main st"},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	rec, _ = doJSON(t, srv, http.MethodPost, "/api/wal/apply", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = doJSON(t, srv, http.MethodGet, "/api/feeds/f1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestIngestEndpointRejectsInvalid(t *testing.T) {
	srv := newTestServer(t)

	_, env := doJSON(t, srv, http.MethodPost, "/api/feeds", model.Feed{
		ID:     "f1",
		Name:   "Main St Sensor",
		Type:   model.FeedTypeTraffic,
		Region: "Downtown",
	})
	require.True(t, env.Success)

	rec, env := doJSON(t, srv, http.MethodPost, "/api/events", model.IngestRequest{
		FeedID:  "f1",
		Payload: map[string]any{"speed": -1.0, "location": "main st"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)
}

func TestFeedEndpointNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec, env := doJSON(t, srv, http.MethodGet, "/api/feeds/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
}

func TestSearchEndpointRequiresQuery(t *testing.T) {
	srv := newTestServer(t)

	rec, _ := doJSON(t, srv, http.MethodGet, "/api/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := doJSON(t, srv, http.MethodGet, "/api/search?q=accident&alpha=1&beta=0", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}
