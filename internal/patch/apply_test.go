package patch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/models"
)

var baseDoc = json.RawMessage(`{
	"title": "Season One",
	"episodes": [
		{"episodeNumber": 1, "title": "Pilot", "keyEvents": ["arrival"]},
		{"episodeNumber": 2, "title": "Fallout", "hook": "Who called?"}
	]
}`)

func TestApplyReplaceAddRemove(t *testing.T) {
	ops := []models.PatchOperation{
		{Op: models.PatchOpReplace, Path: "/episodes/1/title", Value: json.RawMessage(`"Aftermath"`)},
		{Op: models.PatchOpAdd, Path: "/episodes/0/hook", Value: json.RawMessage(`"The lights flicker."`)},
		{Op: models.PatchOpRemove, Path: "/episodes/1/hook"},
	}

	patched, err := Apply(baseDoc, ops)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(patched, &doc))
	require.Equal(t, "Aftermath", ValueAtPath(doc, "/episodes/1/title"))
	require.Equal(t, "The lights flicker.", ValueAtPath(doc, "/episodes/0/hook"))
	require.Nil(t, ValueAtPath(doc, "/episodes/1/hook"))
}

func TestApplyAllOrNothing(t *testing.T) {
	ops := []models.PatchOperation{
		{Op: models.PatchOpReplace, Path: "/title", Value: json.RawMessage(`"Renamed"`)},
		{Op: models.PatchOpRemove, Path: "/does/not/exist"},
	}

	result, err := Apply(baseDoc, ops)
	require.Error(t, err)
	require.True(t, apperrors.IsPatchApplyError(err))
	require.True(t, Equal(baseDoc, result), "failed set must leave the document untouched")
}

func TestApplyEmptySet(t *testing.T) {
	result, err := Apply(baseDoc, nil)
	require.NoError(t, err)
	require.True(t, Equal(baseDoc, result))
}

func TestDiffProducesMinimalOps(t *testing.T) {
	after := json.RawMessage(`{
		"title": "Season One",
		"episodes": [
			{"episodeNumber": 1, "title": "Pilot", "keyEvents": ["arrival"]},
			{"episodeNumber": 2, "title": "Aftermath", "hook": "Who called?"}
		]
	}`)

	ops, err := Diff(baseDoc, after)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, models.PatchOpReplace, ops[0].Op)
	require.Equal(t, "/episodes/1/title", ops[0].Path)
	require.JSONEq(t, `"Aftermath"`, string(ops[0].Value))
}

func TestDiffEqualDocuments(t *testing.T) {
	ops, err := Diff(baseDoc, baseDoc)
	require.NoError(t, err)
	require.Empty(t, ops)
}

// applyPatches(original, diff(original, X)) must reproduce X exactly.
func TestDiffApplyRoundTrip(t *testing.T) {
	targets := []json.RawMessage{
		json.RawMessage(`{"title":"Season One","episodes":[]}`),
		json.RawMessage(`{"title":"S1","episodes":[{"episodeNumber":1,"title":"Pilot","keyEvents":["arrival","signal"]},{"episodeNumber":2,"title":"Fallout"},{"episodeNumber":3,"title":"The Door"}]}`),
		json.RawMessage(`{"episodes":[{"episodeNumber":2,"title":"Fallout","hook":"Who called?"}],"notes":{"tone":"grim"}}`),
		json.RawMessage(`[1,2,3]`),
	}

	for i, target := range targets {
		ops, err := Diff(baseDoc, target)
		require.NoError(t, err, "target %d", i)

		patched, err := Apply(baseDoc, ops)
		require.NoError(t, err, "target %d", i)
		require.True(t, Equal(target, patched), "target %d: %s != %s", i, target, patched)
	}
}

func TestDiffOnlyEmitsReviewableOps(t *testing.T) {
	after := json.RawMessage(`{"title":"Season One","episodes":[{"episodeNumber":2,"title":"Fallout","hook":"Who called?"},{"episodeNumber":1,"title":"Pilot","keyEvents":["arrival"]}]}`)

	ops, err := Diff(baseDoc, after)
	require.NoError(t, err)
	for _, op := range ops {
		switch op.Op {
		case models.PatchOpAdd, models.PatchOpReplace, models.PatchOpRemove:
		default:
			t.Fatalf("unexpected op type %q", op.Op)
		}
	}
}

// The human-edit flow: AI proposes a patch set, the reviewer edits the
// preview, and the rebuilt set lands exactly the edited preview.
func TestRebuildAfterHumanEdit(t *testing.T) {
	aiOps := []models.PatchOperation{
		{Op: models.PatchOpReplace, Path: "/episodes/1/title", Value: json.RawMessage(`"Aftermath"`)},
	}

	// 审阅者在预览上再改一处
	edited, rebuilt, err := Rebuild(baseDoc, aiOps, map[string]interface{}{
		"/episodes/1/hook": "Nobody called.",
	})
	require.NoError(t, err)

	landed, err := Apply(baseDoc, rebuilt)
	require.NoError(t, err)
	require.True(t, Equal(edited, landed))

	require.Equal(t, "Aftermath", ValueAtPath(mustUnmarshal(t, edited), "/episodes/1/title"))
	require.Equal(t, "Nobody called.", ValueAtPath(mustUnmarshal(t, edited), "/episodes/1/hook"))

	// 重建后的补丁集与原 AI 补丁集互不影响：单独应用原集仍可行
	original, err := Apply(baseDoc, aiOps)
	require.NoError(t, err)
	require.False(t, Equal(original, landed))
}

func TestRebuildWithoutOverrides(t *testing.T) {
	aiOps := []models.PatchOperation{
		{Op: models.PatchOpReplace, Path: "/episodes/0/title", Value: json.RawMessage(`"Cold Open"`)},
	}

	preview, rebuilt, err := Rebuild(baseDoc, aiOps, nil)
	require.NoError(t, err)

	applied, err := Apply(baseDoc, aiOps)
	require.NoError(t, err)
	require.True(t, Equal(applied, preview))

	landed, err := Apply(baseDoc, rebuilt)
	require.NoError(t, err)
	require.True(t, Equal(preview, landed))
}

func mustUnmarshal(t *testing.T, raw json.RawMessage) interface{} {
	t.Helper()
	var doc interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}
