// internal/patch/diff.go
package patch

import (
	"encoding/json"
	"sort"

	"github.com/wI2L/jsondiff"

	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/models"
)

// Diff computes the RFC 6902 patch that rewrites before into after, using
// only add/replace/remove so every operation is reviewable and reversible
// by a human. Apply(before, Diff(before, after)) reproduces after exactly.
func Diff(before, after json.RawMessage) ([]models.PatchOperation, error) {
	diff, err := jsondiff.CompareJSON(before, after)
	if err != nil {
		return nil, apperrors.NewPatchApplyError("文档差异计算失败", err)
	}

	ops := make([]models.PatchOperation, 0, len(diff))
	for _, op := range diff {
		converted := models.PatchOperation{
			Op:   models.PatchOp(op.Type),
			Path: op.Path,
		}
		if op.Type != string(models.PatchOpRemove) {
			value, err := json.Marshal(op.Value)
			if err != nil {
				return nil, apperrors.NewPatchApplyError("补丁值序列化失败", err)
			}
			converted.Value = value
		}
		ops = append(ops, converted)
	}
	return ops, nil
}

// Rebuild recomputes a patch set after a human edited the preview: the
// candidate patches are applied to the base, every override pointer's value
// is spliced into that preview, and the replacement set is the diff from the
// base straight to the edited document. Approving the replacement lands
// exactly what the reviewer saw.
//
// 覆盖按指针排序应用，父路径先于子路径，结果与遍历顺序无关。
func Rebuild(base json.RawMessage, patches []models.PatchOperation, overrides map[string]interface{}) (json.RawMessage, []models.PatchOperation, error) {
	preview, err := Apply(base, patches)
	if err != nil {
		return nil, nil, err
	}

	if len(overrides) > 0 {
		var doc interface{}
		if err := json.Unmarshal(preview, &doc); err != nil {
			return nil, nil, apperrors.NewPatchApplyError("预览文档解析失败", err)
		}

		pointers := make([]string, 0, len(overrides))
		for pointer := range overrides {
			pointers = append(pointers, pointer)
		}
		sort.Strings(pointers)
		for _, pointer := range pointers {
			doc = SetValueAtPath(doc, pointer, overrides[pointer])
		}

		edited, err := json.Marshal(doc)
		if err != nil {
			return nil, nil, apperrors.NewPatchApplyError("编辑结果序列化失败", err)
		}
		preview = edited
	}

	ops, err := Diff(base, preview)
	if err != nil {
		return nil, nil, err
	}
	return preview, ops, nil
}
