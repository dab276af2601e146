package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/models"
)

func testSession() *Session[models.EpisodeSynopsis] {
	return NewSession[models.EpisodeSynopsis](EpisodeStrategy{}, Options{
		Debounce:    MinDebounce,
		QuietPeriod: 5 * time.Second,
	})
}

func TestClientOpenCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/generate", r.URL.Path)

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "episodes", payload["stage"])

		flusher := w.(http.Flusher)
		fmt.Fprintln(w, EncodeDelta(`[{"episodeNumber":1,`))
		flusher.Flush()
		fmt.Fprintln(w, EncodeDelta(`"title":"Pilot"},{"episodeNumber":2,"title":"Fallout"}]`))
		fmt.Fprintln(w, EncodeEnd("stop"))
		fmt.Fprintln(w, EncodeDone("stop"))
	}))
	defer server.Close()

	s := testSession()
	defer s.Stop()

	client := NewClient(server.URL)
	err := client.OpenCompletion(context.Background(), "/v1/generate", map[string]string{"stage": "episodes"}, s)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, s.Status())
	snap := s.Snapshot()
	require.Len(t, snap.Items, 2)
	require.Equal(t, "Fallout", snap.Items[1].Title)
}

func TestClientTerminalErrorFrame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, EncodeDelta(`[{"episodeNumber":1,"title":"Pilot"}`))
		fmt.Fprintln(w, EncodeError("model quota exceeded"))
	}))
	defer server.Close()

	s := testSession()
	defer s.Stop()

	client := NewClient(server.URL)
	err := client.OpenCompletion(context.Background(), "/v1/generate", map[string]string{"stage": "episodes"}, s)
	require.Error(t, err)
	require.True(t, apperrors.IsTransportError(err))

	require.Equal(t, StatusError, s.Status())
	require.Contains(t, s.Snapshot().Err.Error(), "model quota exceeded")
}

func TestClientNonOKResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	s := testSession()
	defer s.Stop()

	client := NewClient(server.URL)
	err := client.OpenCompletion(context.Background(), "/v1/generate", nil, s)
	require.Error(t, err)
	require.True(t, apperrors.IsTransportError(err))
	require.Equal(t, StatusError, s.Status())
}

func TestClientConnectTransformLiveStream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/transforms/tr_1/stream", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, EncodeEnvelope(StatusEnvelope{Status: EnvelopeConnected}))
		fmt.Fprintln(w, "data: "+EncodeDelta(`[{"episodeNumber":1,`))
		flusher.Flush()
		fmt.Fprintln(w, "data: "+EncodeDelta(`"title":"Pilot"}]`))
		fmt.Fprintln(w, ":heartbeat")
		fmt.Fprintln(w, "9:future-frame-kind")
		fmt.Fprintln(w, EncodeEnd("stop"))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	s := testSession()
	defer s.Stop()

	client := NewClient(server.URL)
	err := client.ConnectTransform(context.Background(), "tr_1", s)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, s.Status())
	require.Len(t, s.Snapshot().Items, 1)
}

func TestClientConnectTransformFallsBackToResults(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/transforms/tr_2/stream", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stream not available", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/api/transforms/tr_2/results", func(w http.ResponseWriter, r *http.Request) {
		env := StatusEnvelope{
			Status: EnvelopeCompleted,
			Results: []json.RawMessage{
				json.RawMessage(`{"episodeNumber":1,"title":"Pilot"}`),
				json.RawMessage(`{"episodeNumber":2,"title":"Fallout"}`),
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(env)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	s := testSession()
	defer s.Stop()

	client := NewClient(server.URL)
	err := client.ConnectTransform(context.Background(), "tr_2", s)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, s.Status())
	require.Len(t, s.Snapshot().Items, 2)
}

func TestClientConnectTransformBothPathsDown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/transforms/tr_3/stream", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/api/transforms/tr_3/results", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	s := testSession()
	defer s.Stop()

	client := NewClient(server.URL)
	err := client.ConnectTransform(context.Background(), "tr_3", s)
	require.Error(t, err)
	require.True(t, apperrors.IsTransportError(err))
	require.Equal(t, StatusError, s.Status())
}

func TestClientPartialResultsEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/transforms/tr_4/stream", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		env := StatusEnvelope{
			Status: EnvelopePartialResults,
			Results: []json.RawMessage{
				json.RawMessage(`{"episodeNumber":1,"title":"Pilot"}`),
			},
		}
		fmt.Fprintln(w, EncodeEnvelope(env))
		flusher.Flush()
		fmt.Fprintln(w, EncodeDelta(`[{"episodeNumber":1,"title":"Pilot"},{"episodeNumber":2,"title":"Fallout"}]`))
		fmt.Fprintln(w, EncodeEnd("stop"))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	s := testSession()
	defer s.Stop()

	client := NewClient(server.URL)
	err := client.ConnectTransform(context.Background(), "tr_4", s)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, s.Status())
	require.Len(t, s.Snapshot().Items, 2, "live frames extend the adopted partial results")
}
