package aigateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scriptloom/scriptloom/internal/llm"
)

func newGateway(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider := &Provider{}
	require.NoError(t, provider.Initialize(map[string]string{"base_url": server.URL}))
	return provider
}

func collect(t *testing.T, stream <-chan llm.StreamResponse) []llm.StreamResponse {
	t.Helper()
	var chunks []llm.StreamResponse
	timeout := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-stream:
			if !ok {
				return chunks
			}
			chunks = append(chunks, chunk)
		case <-timeout:
			t.Fatal("timed out draining stream")
		}
	}
}

func TestInitializeRequiresBaseURL(t *testing.T) {
	provider := &Provider{}
	require.Error(t, provider.Initialize(map[string]string{}))
	require.NoError(t, provider.Initialize(map[string]string{"base_url": "http://gateway.internal/"}))
	require.Equal(t, "http://gateway.internal", provider.baseURL)
}

func TestStreamCompletionDecodesFrames(t *testing.T) {
	provider := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/stream", r.URL.Path)

		var payload llm.CompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.True(t, payload.Stream)
		require.Equal(t, "gateway/drafting-large", payload.Model)

		fmt.Fprint(w, "0:\"Once \"\n")
		fmt.Fprint(w, "0:\"upon a time\"\n")
		fmt.Fprint(w, "9:{\"future\":\"frame\"}\n")
		fmt.Fprint(w, "e:{\"finishReason\":\"stop\"}\n")
	})

	stream, err := provider.StreamCompletion(context.Background(), llm.CompletionRequest{Prompt: "开场"})
	require.NoError(t, err)

	chunks := collect(t, stream)
	require.Len(t, chunks, 3)
	require.Equal(t, "Once ", chunks[0].Text)
	require.Equal(t, "upon a time", chunks[1].Text)
	require.True(t, chunks[2].Done)
	require.Equal(t, "stop", chunks[2].FinishReason)
}

func TestStreamCompletionErrorFrame(t *testing.T) {
	provider := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0:\"partial\"\n")
		fmt.Fprint(w, "error:{\"message\":\"upstream quota exceeded\"}\n")
	})

	stream, err := provider.StreamCompletion(context.Background(), llm.CompletionRequest{Prompt: "开场"})
	require.NoError(t, err)

	chunks := collect(t, stream)
	require.Len(t, chunks, 2)
	last := chunks[len(chunks)-1]
	require.True(t, last.Done)
	require.Equal(t, "error", last.FinishReason)
}

func TestStreamCompletionTreatsEOFAsEnd(t *testing.T) {
	provider := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0:\"all of it\"\n")
	})

	stream, err := provider.StreamCompletion(context.Background(), llm.CompletionRequest{Prompt: "开场"})
	require.NoError(t, err)

	chunks := collect(t, stream)
	require.Len(t, chunks, 2)
	require.Equal(t, "all of it", chunks[0].Text)
	require.True(t, chunks[1].Done)
	require.Equal(t, "stop", chunks[1].FinishReason)
}

func TestStreamCompletionRejectsNonOK(t *testing.T) {
	provider := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway draining", http.StatusServiceUnavailable)
	})

	_, err := provider.StreamCompletion(context.Background(), llm.CompletionRequest{Prompt: "开场"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestCompleteTextDrainsStream(t *testing.T) {
	provider := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0:\"Hello \"\n")
		fmt.Fprint(w, "0:\"writer\"\n")
		fmt.Fprint(w, "d:{\"finishReason\":\"stop\"}\n")
	})

	resp, err := provider.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "打招呼"})
	require.NoError(t, err)
	require.Equal(t, "Hello writer", resp.Text)
	require.Equal(t, "stop", resp.FinishReason)
	require.Equal(t, "AI Gateway", resp.ProviderName)
}

func TestCompleteTextReportsStreamError(t *testing.T) {
	provider := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "error:\"boom\"\n")
	})

	_, err := provider.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "打招呼"})
	require.Error(t, err)
}

func TestProviderRegistered(t *testing.T) {
	names := llm.ListProviders()
	require.Contains(t, names, "aigateway")

	_, err := llm.GetProvider("aigateway", map[string]string{})
	require.Error(t, err)

	provider, err := llm.GetProvider("aigateway", map[string]string{"base_url": "http://gateway.internal"})
	require.NoError(t, err)
	require.Equal(t, "AI Gateway", provider.GetName())
	require.NotEmpty(t, provider.GetSupportedModels())
}

func TestGetProviderUnknownName(t *testing.T) {
	_, err := llm.GetProvider("does-not-exist", nil)
	require.ErrorIs(t, err, llm.ErrUnknownProvider)
}
