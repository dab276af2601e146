package lineage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scriptloom/scriptloom/internal/models"
)

func recvUpdate(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case update, ok := <-ch:
		require.True(t, ok, "watch channel closed early")
		return update
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lineage update")
		return Update{}
	}
}

func TestGraphSubscribe(t *testing.T) {
	g := NewGraph()

	ch, cancel := g.Subscribe("proj_1")
	defer cancel()

	first := recvUpdate(t, ch)
	require.Empty(t, first.PendingPatchSetIDs)

	addTransform(g, "t1", models.TransformAIPatch, []string{"doc1"}, nil, "ps1")
	update := recvUpdate(t, ch)
	require.Equal(t, []string{"ps1"}, update.PendingPatchSetIDs)

	// 不改变待审集合的记录不会重复广播
	addTransform(g, "t2", models.TransformAIGeneration, nil, []string{"doc2"}, "")
	time.Sleep(50 * time.Millisecond)
	select {
	case update := <-ch:
		t.Fatalf("unexpected duplicate update: %+v", update)
	default:
	}

	addTransform(g, "t3", models.TransformHumanPatchApproval, []string{"ps1"}, nil, "")
	update = recvUpdate(t, ch)
	require.Empty(t, update.PendingPatchSetIDs)
}

func TestGraphWatchHonorsContext(t *testing.T) {
	g := NewGraph()

	ctx, stop := context.WithCancel(context.Background())
	ch, cancel := g.Watch(ctx, "proj_1")
	defer cancel()

	recvUpdate(t, ch)

	stop()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

type fakePendingSource struct {
	mu      sync.Mutex
	pending []string
}

func (f *fakePendingSource) PendingPatchSetIDs(string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pending...)
}

func (f *fakePendingSource) set(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = ids
}

func TestPollWatcher(t *testing.T) {
	source := &fakePendingSource{}
	watcher := NewPollWatcher(source, 20*time.Millisecond)

	ch, cancel := watcher.Watch(context.Background(), "proj_1")
	defer cancel()

	first := recvUpdate(t, ch)
	require.Empty(t, first.PendingPatchSetIDs)

	source.set("ps1")
	update := recvUpdate(t, ch)
	require.Equal(t, []string{"ps1"}, update.PendingPatchSetIDs)

	// 没有变化就保持安静
	time.Sleep(80 * time.Millisecond)
	select {
	case update := <-ch:
		t.Fatalf("unexpected update without change: %+v", update)
	default:
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
