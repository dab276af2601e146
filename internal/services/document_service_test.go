// internal/services/document_service_test.go
package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scriptloom/scriptloom/internal/models"
	"github.com/scriptloom/scriptloom/internal/storage"
)

func newDocumentFixture(t *testing.T, window time.Duration) *DocumentService {
	t.Helper()

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	locks := NewLockManager()
	t.Cleanup(locks.Stop)

	return NewDocumentService(store, locks, window)
}

func documentContent(t *testing.T, s *DocumentService, documentID string) map[string]interface{} {
	t.Helper()
	doc, err := s.GetDocument(documentID)
	require.NoError(t, err)
	var content map[string]interface{}
	require.NoError(t, json.Unmarshal(doc.Content, &content))
	return content
}

func TestQueueSaveCoalescesWindow(t *testing.T) {
	s := newDocumentFixture(t, time.Hour) // 窗口拉长，由 Flush 手动触发

	doc, err := s.CreateDocument("proj_1", models.DocumentKindOutline, json.RawMessage(`{"title":"Pilot"}`), 1)
	require.NoError(t, err)

	s.QueueSave(doc.ID, map[string]interface{}{"title": "Draft A"})
	s.QueueSave(doc.ID, map[string]interface{}{"hook": "The lights flicker."})
	s.QueueSave(doc.ID, map[string]interface{}{"title": "Draft B"})

	// 窗口未到，磁盘上还是原始内容
	require.Equal(t, "Pilot", documentContent(t, s, doc.ID)["title"])

	s.Flush(doc.ID)

	// 一次落盘并上全部字段，同键后写覆盖先写
	content := documentContent(t, s, doc.ID)
	require.Equal(t, "Draft B", content["title"])
	require.Equal(t, "The lights flicker.", content["hook"])
}

func TestQueueSaveAutoFlushesAfterWindow(t *testing.T) {
	s := newDocumentFixture(t, 20*time.Millisecond)

	doc, err := s.CreateDocument("proj_1", models.DocumentKindOutline, json.RawMessage(`{"title":"Pilot"}`), 1)
	require.NoError(t, err)

	s.QueueSave(doc.ID, map[string]interface{}{"title": "Renamed"})

	require.Eventually(t, func() bool {
		stored, err := s.GetDocument(doc.ID)
		if err != nil {
			return false
		}
		var content map[string]interface{}
		if json.Unmarshal(stored.Content, &content) != nil {
			return false
		}
		return content["title"] == "Renamed"
	}, time.Second, 5*time.Millisecond)
}

func TestFlushAllDrainsEveryPendingSave(t *testing.T) {
	s := newDocumentFixture(t, time.Hour)

	first, err := s.CreateDocument("proj_1", models.DocumentKindOutline, json.RawMessage(`{"title":"One"}`), 1)
	require.NoError(t, err)
	second, err := s.CreateDocument("proj_1", models.DocumentKindEpisodeList, json.RawMessage(`{"title":"Two"}`), 1)
	require.NoError(t, err)

	s.QueueSave(first.ID, map[string]interface{}{"title": "One*"})
	s.QueueSave(second.ID, map[string]interface{}{"title": "Two*"})

	s.FlushAll()

	require.Equal(t, "One*", documentContent(t, s, first.ID)["title"])
	require.Equal(t, "Two*", documentContent(t, s, second.ID)["title"])

	// 再次 Flush 没有待保存内容，不应改变任何东西
	s.Flush(first.ID)
	require.Equal(t, "One*", documentContent(t, s, first.ID)["title"])
}

func TestQueueSaveRejectsNonObjectContent(t *testing.T) {
	s := newDocumentFixture(t, time.Hour)

	doc, err := s.CreateDocument("proj_1", models.DocumentKindIdeaList, json.RawMessage(`[{"title":"idea"}]`), 1)
	require.NoError(t, err)

	s.QueueSave(doc.ID, map[string]interface{}{"title": "x"})
	s.Flush(doc.ID)

	// 数组内容无法按字段合并，文档保持原样
	stored, err := s.GetDocument(doc.ID)
	require.NoError(t, err)
	require.JSONEq(t, `[{"title":"idea"}]`, string(stored.Content))
}

func TestLatestDocumentAndNextVersion(t *testing.T) {
	s := newDocumentFixture(t, time.Hour)

	require.Equal(t, 1, s.NextVersion("proj_1", models.DocumentKindScript))

	_, err := s.CreateDocument("proj_1", models.DocumentKindScript, json.RawMessage(`{"v":1}`), 1)
	require.NoError(t, err)
	v2, err := s.CreateDocument("proj_1", models.DocumentKindScript, json.RawMessage(`{"v":2}`), 2)
	require.NoError(t, err)

	latest, err := s.LatestDocument("proj_1", models.DocumentKindScript)
	require.NoError(t, err)
	require.Equal(t, v2.ID, latest.ID)
	require.Equal(t, 3, s.NextVersion("proj_1", models.DocumentKindScript))

	// 其他类型互不影响版本序列
	require.Equal(t, 1, s.NextVersion("proj_1", models.DocumentKindOutline))
}
