package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves the subset of the OpenAI wire protocol used by langchaingo.
func fakeAPI(t *testing.T, dim int, status int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[i%dim] = 1
			data[i] = item{Object: "embedding", Embedding: vec, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "test"})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Markets ", "rallied."} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"test\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"test\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(host string, dim int) *ai.Config {
	return ai.NewConfig(
		ai.WithHost(host),
		ai.WithEmbeddingModel("test-embed"),
		ai.WithChatModel("test-chat"),
		ai.WithEmbeddingDimension(dim),
		ai.WithEmbeddingAPIKey("key"),
		ai.WithChatAPIKey("key"),
	)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.ErrorIs(t, classify(errors.New("API returned unexpected status code: 401: Invalid API Key")), ai.ErrUnauthorized)
	assert.ErrorIs(t, classify(errors.New("invalid api key provided")), ai.ErrUnauthorized)
	assert.ErrorIs(t, classify(errors.New("dial tcp 127.0.0.1:1: connect: connection refused")), ai.ErrUnavailable)
	assert.Equal(t, context.Canceled, classify(context.Canceled))

	already := fmt.Errorf("%w: x", ai.ErrUnauthorized)
	assert.Equal(t, already, classify(already))
}

func TestNewProvider_WithoutCredentialsUsesFallbacks(t *testing.T) {
	cfg := ai.NewConfig(ai.WithEmbeddingDimension(32))
	provider, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	defer provider.Close()

	assert.Equal(t, ai.Status{EmbeddingDegraded: true, GenerationDegraded: true}, provider.Status())

	vec, err := provider.Embedder().EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 32)
	assert.Same(t, provider.FallbackEmbedder(), provider.Embedder())
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	_, err := NewProvider(context.Background(), &ai.Config{})
	assert.Error(t, err)
}

func TestNewProvider_ProbeRejected(t *testing.T) {
	srv := fakeAPI(t, 4, http.StatusUnauthorized)

	provider, err := NewProvider(context.Background(), testConfig(srv.URL, 4))
	require.NoError(t, err)
	assert.True(t, provider.Status().EmbeddingDegraded)
	assert.False(t, provider.Status().GenerationDegraded)
}

func TestNewProvider_ProbeUnreachableKeepsRemoteEmbedder(t *testing.T) {
	srv := fakeAPI(t, 4, http.StatusOK)
	url := srv.URL
	srv.Close()

	provider, err := NewProvider(context.Background(), testConfig(url, 4))
	require.NoError(t, err)
	assert.True(t, provider.Status().EmbeddingDegraded)
	assert.NotSame(t, provider.FallbackEmbedder(), provider.Embedder())
}

func TestEmbedder_AgainstFakeAPI(t *testing.T) {
	srv := fakeAPI(t, 4, http.StatusOK)

	provider, err := NewProvider(context.Background(), testConfig(srv.URL, 4))
	require.NoError(t, err)
	require.False(t, provider.Status().EmbeddingDegraded)

	vectors, err := provider.Embedder().EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}, vectors)
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	srv := fakeAPI(t, 4, http.StatusOK)

	embedder, err := NewEmbedder(testConfig(srv.URL, 8))
	require.NoError(t, err)
	_, err = embedder.EmbedText(context.Background(), "a")
	assert.ErrorIs(t, err, ai.ErrDimensionMismatch)
}

func TestGenerator_StreamsTokens(t *testing.T) {
	srv := fakeAPI(t, 4, http.StatusOK)

	generator, err := NewGenerator(testConfig(srv.URL, 4))
	require.NoError(t, err)

	stream, err := generator.Generate(context.Background(), []ai.ChatMessage{
		{Role: core.RoleSystem, Content: "You are a helpful news assistant."},
		{Role: core.RoleUser, Content: "What happened to markets?"},
	})
	require.NoError(t, err)

	text, err := stream.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Markets rallied.", text)
}
