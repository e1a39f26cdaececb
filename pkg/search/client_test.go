package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-search/lumina-backend/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The constructor probes for the index before anything else runs.
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), config.SearchConfig{
		Endpoint:  server.URL,
		IndexName: "lumina-images",
		VectorDim: 3,
		Timeout:   5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return client
}

func decodeQuery(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func emptyHits(w http.ResponseWriter) {
	_, _ = w.Write([]byte(`{"hits":{"hits":[]}}`))
}

func TestSearchCombinesVectorAndLexicalClauses(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured = decodeQuery(t, r)
		emptyHits(w)
	})

	_, err := client.Search(context.Background(), Query{
		Text:      "red bicycle",
		Embedding: []float32{0.1, 0.2, 0.3},
		TopK:      5,
	})
	require.NoError(t, err)
	require.NotNil(t, captured)

	query, ok := captured["query"].(map[string]any)
	require.True(t, ok, "query object missing: %v", captured)
	boolQuery, ok := query["bool"].(map[string]any)
	require.True(t, ok, "expected bool query, got %v", query)
	should, ok := boolQuery["should"].([]any)
	require.True(t, ok)
	require.Len(t, should, 2)

	knn, ok := should[0].(map[string]any)["knn"].(map[string]any)
	require.True(t, ok, "first clause must be knn, got %v", should[0])
	embedding := knn["embedding"].(map[string]any)
	assert.EqualValues(t, 5, embedding["k"])

	match, ok := should[1].(map[string]any)["match"].(map[string]any)
	require.True(t, ok, "second clause must be match, got %v", should[1])
	assert.Equal(t, "red bicycle", match["description"])
}

func TestSearchVectorOnlySendsBareKnn(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured = decodeQuery(t, r)
		emptyHits(w)
	})

	_, err := client.Search(context.Background(), Query{Embedding: []float32{1, 2, 3}})
	require.NoError(t, err)

	query := captured["query"].(map[string]any)
	_, hasBool := query["bool"]
	assert.False(t, hasBool, "single clause must not be wrapped: %v", query)
	_, hasKnn := query["knn"]
	assert.True(t, hasKnn)
}

func TestSearchTextOnlySendsMatch(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured = decodeQuery(t, r)
		emptyHits(w)
	})

	_, err := client.Search(context.Background(), Query{Text: "sunset"})
	require.NoError(t, err)

	query := captured["query"].(map[string]any)
	match, ok := query["match"].(map[string]any)
	require.True(t, ok, "expected match query, got %v", query)
	assert.Equal(t, "sunset", match["description"])
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		emptyHits(w)
	})

	_, err := client.Search(context.Background(), Query{})
	require.Error(t, err)
}

func TestSearchDecodesHits(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_score":1.5,"_source":{"id":"abc","description":"a dog","image_path":"images/abc"}}
		]}}`))
	})

	hits, err := client.Search(context.Background(), Query{Text: "dog"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "abc", hits[0].ID)
	assert.Equal(t, 1.5, hits[0].Score)
	assert.Equal(t, "a dog", hits[0].Description)
}
