package recommend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/tastecall/internal/tools"
)

func newTestFunctions(t *testing.T, handler http.HandlerFunc) *Functions {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	client := NewClient(Config{BaseURL: ts.URL, APIKey: "test-key", MaxRetryElapsed: time.Second})
	return NewFunctions(client, 2*time.Second)
}

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	return m
}

func TestSearchEntitiesRemembersResults(t *testing.T) {
	f := newTestFunctions(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "dune", r.URL.Query().Get("query"))
		assert.Equal(t, "urn:entity:movie", r.URL.Query().Get("types"))
		_, _ = w.Write([]byte(`{"results":[{"entity_id":"E1","name":"Dune","types":["urn:entity:movie"]}]}`))
	})
	ec := tools.NewEntityContext()

	out, err := f.searchEntities(context.Background(), map[string]any{"query": "dune", "types": []any{"movie"}}, ec)
	require.NoError(t, err)
	m := decode(t, out)
	require.Len(t, m["entities"], 1)

	e, ok := ec.FindByName("Dune")
	require.True(t, ok)
	assert.Equal(t, "E1", e.ID)
	assert.Equal(t, "urn:entity:movie", e.Type)
}

func TestGetRecommendationsReusesEntityContext(t *testing.T) {
	var searches atomic.Int32
	f := newTestFunctions(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			searches.Add(1)
			_, _ = w.Write([]byte(`{"results":[]}`))
		case "/v2/insights":
			assert.Equal(t, "E1", r.URL.Query().Get("signal.interests.entities"))
			assert.Equal(t, "urn:entity:book", r.URL.Query().Get("filter.type"))
			_, _ = w.Write([]byte(`{"results":{"entities":[{"entity_id":"B1","name":"Hyperion","subtype":"urn:entity:book"}]}}`))
		default:
			http.NotFound(w, r)
		}
	})
	ec := tools.NewEntityContext()
	ec.Remember(tools.Entity{ID: "E1", Name: "Dune", Type: "urn:entity:movie"})

	out, err := f.getRecommendations(context.Background(), map[string]any{
		"domain":       "book",
		"entity_names": []any{"dune"},
	}, ec)
	require.NoError(t, err)
	assert.Equal(t, int32(0), searches.Load())

	m := decode(t, out)
	assert.Equal(t, []any{"Dune"}, m["based_on"])
	require.Len(t, m["recommendations"], 1)
	_, ok := ec.Lookup("B1")
	assert.True(t, ok)
}

func TestGetRecommendationsWithoutEntitiesIsExpectedFailure(t *testing.T) {
	f := newTestFunctions(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
	out, err := f.getRecommendations(context.Background(), map[string]any{"domain": "movie", "entity_names": []any{"nothing"}}, tools.NewEntityContext())
	require.NoError(t, err)
	assert.Contains(t, decode(t, out), "error")
}

func TestClientRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	f := newTestFunctions(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"results":{"tags":[{"id":"T1","name":"ramen","type":"urn:tag:genre"}]}}`))
	})

	out, err := f.searchTags(context.Background(), map[string]any{"query": "ramen"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, decode(t, out)["tags"], 1)
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	f := newTestFunctions(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	out, err := f.findVenues(context.Background(), map[string]any{"query": "ramen", "location": "Brooklyn"}, tools.NewEntityContext())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, decode(t, out)["error"], "401")
}

func TestMalformedResponseIsAFault(t *testing.T) {
	f := newTestFunctions(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":`))
	})
	_, err := f.searchEntities(context.Background(), map[string]any{"query": "dune"}, tools.NewEntityContext())
	require.Error(t, err)
}

func TestUnconfiguredClientReportsError(t *testing.T) {
	f := NewFunctions(NewClient(Config{}), time.Second)
	out, err := f.searchEntities(context.Background(), map[string]any{"query": "dune"}, tools.NewEntityContext())
	require.NoError(t, err)
	assert.Contains(t, decode(t, out)["error"], "not configured")
}

func TestAllRegistersIntoTable(t *testing.T) {
	table, err := tools.NewTable(NewFunctions(NewClient(Config{}), time.Second).All()...)
	require.NoError(t, err)
	assert.Equal(t, []string{"find_venues", "get_recommendations", "search_entities", "search_tags"}, table.Names())
}
