package streaming

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/models"
)

func recvSnapshot(t *testing.T, ch <-chan Snapshot[models.EpisodeSynopsis]) Snapshot[models.EpisodeSynopsis] {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "subscription closed early")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot[models.EpisodeSynopsis]{}
	}
}

func newEpisodeSession(quiet time.Duration) *Session[models.EpisodeSynopsis] {
	return NewSession[models.EpisodeSynopsis](EpisodeStrategy{}, Options{
		Debounce:    MinDebounce,
		QuietPeriod: quiet,
	})
}

func TestSessionLifecycle(t *testing.T) {
	s := newEpisodeSession(5 * time.Second)
	defer s.Stop()

	ch, cancel := s.Subscribe()
	defer cancel()

	first := recvSnapshot(t, ch)
	require.Equal(t, StatusIdle, first.Status)
	require.Empty(t, first.Items)

	chunks := []string{
		`[{"episodeNumber":1,`,
		`"title":"Pilot"},`,
		`{"episodeNumber":2,"title":"Fallout"}`,
		`]`,
	}
	for _, chunk := range chunks {
		s.Feed(chunk)
		time.Sleep(3 * MinDebounce)
	}
	s.End()

	var snaps []Snapshot[models.EpisodeSynopsis]
	for {
		snap := recvSnapshot(t, ch)
		snaps = append(snaps, snap)
		if snap.Status == StatusCompleted {
			break
		}
	}

	last := snaps[len(snaps)-1]
	require.Len(t, last.Items, 2)
	require.Equal(t, "Pilot", last.Items[0].Title)
	require.Equal(t, "Fallout", last.Items[1].Title)

	// 条目数只会增长，状态从 streaming 收敛到 completed
	prev := 0
	sawStreaming := false
	for _, snap := range snaps {
		if snap.Status == StatusStreaming {
			sawStreaming = true
		}
		require.GreaterOrEqual(t, len(snap.Items), prev)
		prev = len(snap.Items)
	}
	require.True(t, sawStreaming)
}

func TestSessionQuietPeriodCompletes(t *testing.T) {
	s := newEpisodeSession(80 * time.Millisecond)
	defer s.Stop()

	s.Feed(`[{"episodeNumber":1,"title":"Pilot"}]`)

	require.Eventually(t, func() bool {
		return s.Status() == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	snap := s.Snapshot()
	require.Len(t, snap.Items, 1)
	require.NoError(t, snap.Err)
}

func TestSessionDistinctUntilChanged(t *testing.T) {
	s := newEpisodeSession(5 * time.Second)
	defer s.Stop()

	ch, cancel := s.Subscribe()
	defer cancel()

	recvSnapshot(t, ch) // idle

	s.Feed(`[{"episodeNumber":1,"title":"Pilot"}]`)
	streaming := recvSnapshot(t, ch)
	require.Equal(t, StatusStreaming, streaming.Status)

	parsed := recvSnapshot(t, ch)
	require.Len(t, parsed.Items, 1)

	// 只追加空白，解析结果不变，不应再次广播
	s.Feed("\n   ")
	time.Sleep(5 * MinDebounce)

	select {
	case snap := <-ch:
		t.Fatalf("duplicate snapshot broadcast: %+v", snap)
	default:
	}
}

func TestSessionStopDropsLateChunks(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newEpisodeSession(time.Second)
	ch, _ := s.Subscribe()

	s.Feed(`[{"episodeNumber":1,"title":"Pilot"}]`)
	require.Eventually(t, func() bool {
		return len(s.Snapshot().Items) == 1
	}, 2*time.Second, 5*time.Millisecond)

	raw := s.Snapshot().RawContent
	s.Stop()

	s.Feed(`,{"episodeNumber":2,"title":"Late"}]`)
	s.End()

	require.Equal(t, raw, s.Snapshot().RawContent, "chunk after stop must be dropped")
	require.Equal(t, StatusStreaming, s.Status(), "no transitions after stop")

	// 订阅通道随 Stop 关闭
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}

func TestSessionMalformedContentNeverErrors(t *testing.T) {
	s := newEpisodeSession(60 * time.Millisecond)
	defer s.Stop()

	s.Feed("certainly! here is ")
	s.Feed("{{{{ not json at all")

	require.Eventually(t, func() bool {
		return s.Status() == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	snap := s.Snapshot()
	require.NoError(t, snap.Err)
	require.Empty(t, snap.Items)
}

func TestSessionTransportErrorIsTerminal(t *testing.T) {
	s := newEpisodeSession(5 * time.Second)
	defer s.Stop()

	s.Feed(`[{"episodeNumber":1,`)
	s.Fail(apperrors.NewTransportError("connection reset", nil))

	require.Equal(t, StatusError, s.Status())
	snap := s.Snapshot()
	require.Error(t, snap.Err)
	require.True(t, apperrors.IsTransportError(snap.Err))
	require.NotEmpty(t, snap.RawContent, "partial content stays available")

	s.Feed("more")
	require.Equal(t, snap.RawContent, s.Snapshot().RawContent)
}

func TestSessionAdoptResults(t *testing.T) {
	s := newEpisodeSession(5 * time.Second)
	defer s.Stop()

	partial := []json.RawMessage{
		json.RawMessage(`{"episodeNumber":1,"title":"Pilot"}`),
	}
	s.AdoptResults(partial, false)
	require.Equal(t, StatusStreaming, s.Status())
	require.Len(t, s.Snapshot().Items, 1)

	complete := []json.RawMessage{
		json.RawMessage(`{"episodeNumber":1,"title":"Pilot"}`),
		json.RawMessage(`{"episodeNumber":2,"title":"Fallout"}`),
	}
	s.AdoptResults(complete, true)
	require.Equal(t, StatusCompleted, s.Status())
	require.Len(t, s.Snapshot().Items, 2)
}

func TestSubscribeAfterStop(t *testing.T) {
	s := newEpisodeSession(time.Second)
	s.Stop()

	ch, cancel := s.Subscribe()
	defer cancel()

	_, ok := <-ch
	require.False(t, ok, "subscription on a stopped session is closed")
}
