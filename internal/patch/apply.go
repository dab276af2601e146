// internal/patch/apply.go
package patch

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"

	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/models"
)

// Apply runs an RFC 6902 patch against a document and returns the patched
// copy. All-or-nothing: any operation failing (remove/replace on a missing
// path, add with a missing parent, bad index) rejects the whole set and the
// original document is returned untouched alongside the error.
func Apply(content json.RawMessage, ops []models.PatchOperation) (json.RawMessage, error) {
	if len(ops) == 0 {
		return content, nil
	}

	encoded, err := json.Marshal(ops)
	if err != nil {
		return content, apperrors.NewPatchApplyError("补丁序列化失败", err)
	}

	decoded, err := jsonpatch.DecodePatch(encoded)
	if err != nil {
		return content, apperrors.NewPatchApplyError("补丁格式不合法", err)
	}

	patched, err := decoded.Apply(content)
	if err != nil {
		return content, apperrors.NewPatchApplyError("补丁应用失败", err)
	}

	return patched, nil
}

// Preview is Apply under a name that matches its use: rendering the
// would-be document for review without persisting anything.
func Preview(content json.RawMessage, ops []models.PatchOperation) (json.RawMessage, error) {
	return Apply(content, ops)
}

// Equal reports whether two documents are semantically the same JSON,
// ignoring key order and whitespace.
func Equal(a, b json.RawMessage) bool {
	return jsonpatch.Equal(a, b)
}
