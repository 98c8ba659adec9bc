package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"autosint/internal/config"
)

func jsonEmbedResponse(vectors ...[]float32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]any, len(vectors))
		for i, v := range vectors {
			data[i] = map[string]any{"embedding": v}
		}
		b, _ := json.Marshal(map[string]any{"data": data})
		w.Write(b)
	}
}

func TestEmbedSetsBearerAuthorization(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		jsonEmbedResponse([]float32{0.1, 0.2})(w, r)
	}))
	defer ts.Close()

	c := New(config.EmbeddingsConfig{Endpoint: ts.URL, Model: "m", AuthHeader: "Authorization", APIKey: "secret"}, ts.Client())
	out, err := c.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0.1, 0.2}}, out)
}

func TestEmbedSetsCustomHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "abc", r.Header.Get("X-Api-Key"))
		jsonEmbedResponse([]float32{0.5})(w, r)
	}))
	defer ts.Close()

	c := New(config.EmbeddingsConfig{Endpoint: ts.URL, Model: "m", AuthHeader: "X-Api-Key", APIKey: "abc"}, ts.Client())
	_, err := c.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
}

func TestEmbedReturnsVectorsInOrder(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(jsonEmbedResponse([]float32{1}, []float32{2})))
	defer ts.Close()

	c := New(config.EmbeddingsConfig{Endpoint: ts.URL, Model: "m"}, ts.Client())
	out, err := c.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1}, {2}}, out)
}

func TestEmbedRejectsMismatchedVectorCount(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(jsonEmbedResponse([]float32{1})))
	defer ts.Close()

	c := New(config.EmbeddingsConfig{Endpoint: ts.URL, Model: "m"}, ts.Client())
	_, err := c.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}

func TestEmbedOneReturnsSingleVector(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(jsonEmbedResponse([]float32{0.9})))
	defer ts.Close()

	c := New(config.EmbeddingsConfig{Endpoint: ts.URL, Model: "m"}, ts.Client())
	out, err := c.EmbedOne(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, []float32{0.9}, out)
}

func TestBatchSizeDefault(t *testing.T) {
	c := New(config.EmbeddingsConfig{}, nil)
	require.Equal(t, 50, c.BatchSize())
}
