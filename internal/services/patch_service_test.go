// internal/services/patch_service_test.go
package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/lineage"
	"github.com/scriptloom/scriptloom/internal/models"
	"github.com/scriptloom/scriptloom/internal/patch"
	"github.com/scriptloom/scriptloom/internal/storage"
	"github.com/scriptloom/scriptloom/internal/utils"
)

type patchFixture struct {
	documents  *DocumentService
	transforms *TransformService
	patches    *PatchService
	graph      *lineage.Graph
}

func newPatchFixture(t *testing.T) *patchFixture {
	t.Helper()

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	locks := NewLockManager()
	t.Cleanup(locks.Stop)

	graph := lineage.NewGraph()
	transforms := NewTransformService(store, graph, locks)
	documents := NewDocumentService(store, locks, 10*time.Millisecond)
	patches := NewPatchService(store, locks, documents, transforms, utils.NewPipelineMetrics())

	return &patchFixture{
		documents:  documents,
		transforms: transforms,
		patches:    patches,
		graph:      graph,
	}
}

// propose 走完整谱系登记一个补丁集：ai_patch 变换消费基础文档并产出补丁集
func (f *patchFixture) propose(t *testing.T, base *models.Document, ops []models.PatchOperation) *models.PatchSet {
	t.Helper()

	tr, err := f.transforms.CreateTransform(base.ProjectID, models.TransformAIPatch, "episodes", []string{base.ID})
	require.NoError(t, err)

	set, err := f.patches.CreatePatchSet(base.ProjectID, tr.ID, base.ID, ops)
	require.NoError(t, err)

	_, err = f.transforms.CompleteTransform(tr.ID, nil, set.ID, "")
	require.NoError(t, err)
	return set
}

func mustCreateDocument(t *testing.T, docs *DocumentService, projectID string, content string) *models.Document {
	t.Helper()
	doc, err := docs.CreateDocument(projectID, models.DocumentKindEpisodeList, json.RawMessage(content), docs.NextVersion(projectID, models.DocumentKindEpisodeList))
	require.NoError(t, err)
	return doc
}

func TestApproveCreatesNewVersion(t *testing.T) {
	f := newPatchFixture(t)

	base := mustCreateDocument(t, f.documents, "proj_1", `{"title":"Pilot","hook":"old hook"}`)
	set := f.propose(t, base, []models.PatchOperation{
		{Op: models.PatchOpReplace, Path: "/title", Value: json.RawMessage(`"Aftermath"`)},
	})

	result, err := f.patches.Approve("proj_1", []string{set.ID})
	require.NoError(t, err)
	docID := result.ApprovedDocuments[set.ID]
	require.NotEmpty(t, docID)

	// 落成的新版本承载应用后的内容，基础版本不动
	doc, err := f.documents.GetDocument(docID)
	require.NoError(t, err)
	require.Equal(t, 2, doc.Version)
	require.True(t, patch.Equal(doc.Content, json.RawMessage(`{"title":"Aftermath","hook":"old hook"}`)))

	before, err := f.documents.GetDocument(base.ID)
	require.NoError(t, err)
	require.True(t, patch.Equal(before.Content, base.Content))

	stored, err := f.patches.GetPatchSet(set.ID)
	require.NoError(t, err)
	require.Equal(t, models.PatchSetApproved, stored.Status)

	// 批准变换进入谱系，待审列表出清
	require.True(t, f.graph.HasDescendantOfType(set.ID, models.TransformHumanPatchApproval))
	pending, err := f.patches.PendingPatchSets("proj_1")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestApproveAllOrNothing(t *testing.T) {
	f := newPatchFixture(t)

	base := mustCreateDocument(t, f.documents, "proj_1", `{"title":"Pilot"}`)
	good := f.propose(t, base, []models.PatchOperation{
		{Op: models.PatchOpReplace, Path: "/title", Value: json.RawMessage(`"Renamed"`)},
	})
	bad := f.propose(t, base, []models.PatchOperation{
		{Op: models.PatchOpRemove, Path: "/does/not/exist"},
	})

	_, err := f.patches.Approve("proj_1", []string{good.ID, bad.ID})
	require.Error(t, err)
	require.True(t, apperrors.IsPatchApplyError(err))

	// 整批取消：两个补丁集都还在待审，没有任何新文档版本落盘
	for _, id := range []string{good.ID, bad.ID} {
		stored, err := f.patches.GetPatchSet(id)
		require.NoError(t, err)
		require.Equal(t, models.PatchSetPending, stored.Status)
	}
	docs, err := f.documents.ListDocuments("proj_1")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	pending, err := f.patches.PendingPatchSets("proj_1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestApproveValidatesSelection(t *testing.T) {
	f := newPatchFixture(t)

	base := mustCreateDocument(t, f.documents, "proj_1", `{"title":"Pilot"}`)
	set := f.propose(t, base, []models.PatchOperation{
		{Op: models.PatchOpReplace, Path: "/title", Value: json.RawMessage(`"Renamed"`)},
	})

	_, err := f.patches.Approve("proj_1", nil)
	require.True(t, apperrors.IsValidationError(err))

	_, err = f.patches.Approve("proj_2", []string{set.ID})
	require.True(t, apperrors.IsValidationError(err))

	_, err = f.patches.Approve("proj_1", []string{set.ID})
	require.NoError(t, err)

	// 已批准的集合不能再次进入批准
	_, err = f.patches.Approve("proj_1", []string{set.ID})
	require.True(t, apperrors.IsConflictError(err))
}

func TestRejectKeepsBaseDocument(t *testing.T) {
	f := newPatchFixture(t)

	base := mustCreateDocument(t, f.documents, "proj_1", `{"title":"Pilot"}`)
	set := f.propose(t, base, []models.PatchOperation{
		{Op: models.PatchOpReplace, Path: "/title", Value: json.RawMessage(`"Renamed"`)},
	})

	require.NoError(t, f.patches.Reject("proj_1", []string{set.ID}, "节奏不对"))

	stored, err := f.patches.GetPatchSet(set.ID)
	require.NoError(t, err)
	require.Equal(t, models.PatchSetRejected, stored.Status)
	require.Equal(t, "节奏不对", stored.RejectionReason)

	// 驳回不产生新版本，基础文档原样保留
	docs, err := f.documents.ListDocuments("proj_1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.True(t, patch.Equal(docs[0].Content, base.Content))

	require.True(t, f.graph.HasDescendantOfType(set.ID, models.TransformHumanPatchReject))
	pending, err := f.patches.PendingPatchSets("proj_1")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestHumanEditSupersedes(t *testing.T) {
	f := newPatchFixture(t)

	base := mustCreateDocument(t, f.documents, "proj_1", `{"title":"Pilot","hook":"old hook"}`)
	set := f.propose(t, base, []models.PatchOperation{
		{Op: models.PatchOpReplace, Path: "/title", Value: json.RawMessage(`"Aftermath"`)},
	})

	replacement, err := f.patches.HumanEdit(set.ID, map[string]interface{}{
		"/hook": "rewritten hook",
	})
	require.NoError(t, err)
	require.NotEqual(t, set.ID, replacement.ID)

	// 原集被取代并指向替代者，待审列表只剩替代集
	original, err := f.patches.GetPatchSet(set.ID)
	require.NoError(t, err)
	require.Equal(t, models.PatchSetSuperseded, original.Status)
	require.Equal(t, replacement.ID, original.SupersededByID)

	pending, err := f.patches.PendingPatchSets("proj_1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, replacement.ID, pending[0].ID)

	// 批准替代集落下的正是审阅者看到的编辑结果
	result, err := f.patches.Approve("proj_1", []string{replacement.ID})
	require.NoError(t, err)
	doc, err := f.documents.GetDocument(result.ApprovedDocuments[replacement.ID])
	require.NoError(t, err)
	require.True(t, patch.Equal(doc.Content, json.RawMessage(`{"title":"Aftermath","hook":"rewritten hook"}`)))

	// 被取代的集合不可再编辑
	_, err = f.patches.HumanEdit(set.ID, map[string]interface{}{"/title": "x"})
	require.True(t, apperrors.IsConflictError(err))
}

func TestPreviewDegradesOnUnappliablePatches(t *testing.T) {
	f := newPatchFixture(t)

	base := mustCreateDocument(t, f.documents, "proj_1", `{"title":"Pilot"}`)
	set := f.propose(t, base, []models.PatchOperation{
		{Op: models.PatchOpRemove, Path: "/does/not/exist"},
	})

	preview, err := f.patches.Preview(set.ID)
	require.NoError(t, err, "an unappliable set degrades the preview instead of failing it")
	require.NotEmpty(t, preview.Error)
	require.Empty(t, preview.After)
	require.True(t, patch.Equal(preview.Before, base.Content))
}
