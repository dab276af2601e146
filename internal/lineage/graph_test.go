package lineage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scriptloom/scriptloom/internal/models"
)

func addTransform(g *Graph, id string, tt models.TransformType, inputs, outputs []string, patchSetID string) {
	g.AddTransform(&models.Transform{
		ID:         id,
		ProjectID:  "proj_1",
		Type:       tt,
		Status:     models.TransformCompleted,
		InputIDs:   inputs,
		OutputIDs:  outputs,
		PatchSetID: patchSetID,
	})
}

func TestPendingFollowsEditAndApproval(t *testing.T) {
	g := NewGraph()

	addTransform(g, "t1", models.TransformAIGeneration, nil, []string{"doc1"}, "")
	require.Empty(t, g.PendingPatchSetIDs("proj_1"))

	// AI 提出补丁集 ps1
	addTransform(g, "t2", models.TransformAIPatch, []string{"doc1"}, nil, "ps1")
	require.Equal(t, []string{"ps1"}, g.PendingPatchSetIDs("proj_1"))

	// 审阅者改写预览：ps1 被取代，ps2 接棒等待决定
	addTransform(g, "t3", models.TransformHumanPatchEdit, []string{"ps1"}, nil, "ps2")
	require.Equal(t, []string{"ps2"}, g.PendingPatchSetIDs("proj_1"))

	// 批准 ps2 后全部出清
	addTransform(g, "t4", models.TransformHumanPatchApproval, []string{"ps2"}, []string{"doc2"}, "")
	require.Empty(t, g.PendingPatchSetIDs("proj_1"))
}

func TestPendingClosedThroughIntermediateHops(t *testing.T) {
	g := NewGraph()

	addTransform(g, "t1", models.TransformAIPatch, []string{"doc1"}, nil, "ps1")
	require.Equal(t, []string{"ps1"}, g.PendingPatchSetIDs("proj_1"))

	// 普通人工编辑消费了补丁集但不构成决定
	addTransform(g, "t2", models.TransformHumanEdit, []string{"ps1"}, []string{"doc2"}, "")
	require.Equal(t, []string{"ps1"}, g.PendingPatchSetIDs("proj_1"),
		"a plain edit does not decide the patch set")

	// 隔一跳的批准依然关闭 ps1
	addTransform(g, "t3", models.TransformHumanPatchApproval, []string{"doc2"}, []string{"doc3"}, "")
	require.Empty(t, g.PendingPatchSetIDs("proj_1"))
}

func TestPendingRejectionCloses(t *testing.T) {
	g := NewGraph()

	addTransform(g, "t1", models.TransformAIPatch, []string{"doc1"}, nil, "ps1")
	addTransform(g, "t2", models.TransformAIPatch, []string{"doc1"}, nil, "ps2")
	require.Equal(t, []string{"ps1", "ps2"}, g.PendingPatchSetIDs("proj_1"))

	addTransform(g, "t3", models.TransformHumanPatchReject, []string{"ps1"}, nil, "")
	require.Equal(t, []string{"ps2"}, g.PendingPatchSetIDs("proj_1"))
}

func TestWalkSurvivesCycles(t *testing.T) {
	g := NewGraph()

	// 损坏的日志也不能让 DFS 挂起
	addTransform(g, "t1", models.TransformAIGeneration, []string{"x"}, []string{"y"}, "")
	addTransform(g, "t2", models.TransformAIGeneration, []string{"y"}, []string{"x"}, "")

	descendants := g.Descendants("x")
	require.Len(t, descendants, 2)
	require.Empty(t, g.PendingPatchSetIDs("proj_1"))
}

func TestDescendantsAndTypeQuery(t *testing.T) {
	g := NewGraph()

	addTransform(g, "t1", models.TransformAIGeneration, nil, []string{"doc1"}, "")
	addTransform(g, "t2", models.TransformAIPatch, []string{"doc1"}, nil, "ps1")
	addTransform(g, "t3", models.TransformHumanPatchApproval, []string{"ps1"}, []string{"doc2"}, "")
	addTransform(g, "t4", models.TransformAIPatch, []string{"doc2"}, nil, "ps2")

	ids := func(ts []*models.Transform) []string {
		out := make([]string, len(ts))
		for i, tr := range ts {
			out[i] = tr.ID
		}
		return out
	}

	require.ElementsMatch(t, []string{"t2", "t3", "t4"}, ids(g.Descendants("doc1")))
	require.True(t, g.HasDescendantOfType("doc1", models.TransformHumanPatchApproval))
	require.False(t, g.HasDescendantOfType("doc2", models.TransformHumanPatchApproval))

	require.Len(t, g.ProjectTransforms("proj_1"), 4)
	_, ok := g.Transform("t2")
	require.True(t, ok)
}

func TestAddTransformIdempotentUpdate(t *testing.T) {
	g := NewGraph()

	addTransform(g, "t1", models.TransformAIPatch, []string{"doc1"}, nil, "ps1")
	// 重复记录同一 transform 只更新内容，不加边
	updated := &models.Transform{
		ID:         "t1",
		ProjectID:  "proj_1",
		Type:       models.TransformAIPatch,
		Status:     models.TransformFailed,
		InputIDs:   []string{"doc1"},
		PatchSetID: "ps1",
	}
	g.AddTransform(updated)

	stored, ok := g.Transform("t1")
	require.True(t, ok)
	require.Equal(t, models.TransformFailed, stored.Status)
	require.Len(t, g.ProjectTransforms("proj_1"), 1)
	require.Len(t, g.Descendants("doc1"), 1)
}
