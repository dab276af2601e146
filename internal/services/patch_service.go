// internal/services/patch_service.go
package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/lineage"
	"github.com/scriptloom/scriptloom/internal/models"
	"github.com/scriptloom/scriptloom/internal/patch"
	"github.com/scriptloom/scriptloom/internal/storage"
	"github.com/scriptloom/scriptloom/internal/utils"
)

// PatchService 补丁集的审批工作流：待审发现、预览、人工改写、批准与驳回
// 批准与驳回对勾选的集合整体生效，任何一个失败则全部不落盘
type PatchService struct {
	store      *storage.FileStore
	locks      *LockManager
	documents  *DocumentService
	transforms *TransformService
	graph      *lineage.Graph
	metrics    *utils.PipelineMetrics

	mu    sync.Mutex
	index map[string]string // patchSetID -> projectID
}

// PatchPreview 预览结果；应用失败时 After 为空、Error 说明原因
type PatchPreview struct {
	PatchSetID string                  `json:"patch_set_id"`
	Before     json.RawMessage         `json:"before"`
	After      json.RawMessage         `json:"after,omitempty"`
	Patches    []models.PatchOperation `json:"patches"`
	Error      string                  `json:"error,omitempty"`
}

// ApprovalResult 批准结果：每个补丁集落成的新文档版本
type ApprovalResult struct {
	ApprovedDocuments map[string]string `json:"approved_documents"` // patchSetID -> documentID
}

// NewPatchService 创建补丁服务并重建补丁集索引
func NewPatchService(store *storage.FileStore, locks *LockManager, documents *DocumentService, transforms *TransformService, metrics *utils.PipelineMetrics) *PatchService {
	s := &PatchService{
		store:      store,
		locks:      locks,
		documents:  documents,
		transforms: transforms,
		graph:      transforms.Graph(),
		metrics:    metrics,
		index:      make(map[string]string),
	}
	s.rebuildIndex()
	return s
}

func patchSetPath(projectID, patchSetID string) string {
	return fmt.Sprintf("projects/%s/patchsets/%s.json", projectID, patchSetID)
}

func (s *PatchService) rebuildIndex() {
	projects, err := s.store.ListDirs("projects")
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, projectID := range projects {
		ids, err := s.store.ListFiles("projects/"+projectID+"/patchsets", "")
		if err != nil {
			continue
		}
		for _, id := range ids {
			s.index[id] = projectID
		}
	}
}

func (s *PatchService) projectFor(patchSetID string) (string, bool) {
	s.mu.Lock()
	projectID, ok := s.index[patchSetID]
	s.mu.Unlock()
	return projectID, ok
}

// CreatePatchSet 登记一个由变换产出的补丁集
func (s *PatchService) CreatePatchSet(projectID, transformID, baseDocumentID string, patches []models.PatchOperation) (*models.PatchSet, error) {
	now := time.Now()
	set := &models.PatchSet{
		ID:             uuid.NewString(),
		ProjectID:      projectID,
		TransformID:    transformID,
		BaseDocumentID: baseDocumentID,
		Patches:        patches,
		Status:         models.PatchSetPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.persist(set); err != nil {
		return nil, err
	}
	return set, nil
}

// GetPatchSet 按ID读取补丁集
func (s *PatchService) GetPatchSet(patchSetID string) (*models.PatchSet, error) {
	projectID, ok := s.projectFor(patchSetID)
	if !ok {
		return nil, apperrors.NewNotFoundError("补丁集不存在: "+patchSetID, nil)
	}

	var set models.PatchSet
	if err := s.store.ReadJSON(patchSetPath(projectID, patchSetID), &set); err != nil {
		return nil, apperrors.NewProcessingError("读取补丁集失败", err)
	}
	return &set, nil
}

// PendingPatchSets 从谱系图重新计算待审补丁集并取回完整记录
// 以图为准而不是按存储的状态字段过滤，两边不一致时图赢
func (s *PatchService) PendingPatchSets(projectID string) ([]*models.PatchSet, error) {
	ids := s.graph.PendingPatchSetIDs(projectID)

	sets := make([]*models.PatchSet, 0, len(ids))
	for _, id := range ids {
		set, err := s.GetPatchSet(id)
		if err != nil {
			continue
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// Preview 计算 before/after 预览；应用失败降级为"无可用差异"而不是报错
func (s *PatchService) Preview(patchSetID string) (*PatchPreview, error) {
	set, err := s.GetPatchSet(patchSetID)
	if err != nil {
		return nil, err
	}
	base, err := s.documents.GetDocument(set.BaseDocumentID)
	if err != nil {
		return nil, err
	}

	preview := &PatchPreview{
		PatchSetID: set.ID,
		Before:     base.Content,
		Patches:    set.Patches,
	}

	after, err := patch.Preview(base.Content, set.Patches)
	if err != nil {
		s.metrics.RecordApplyFailure("preview")
		preview.Error = "补丁无法应用到基础文档，暂无可用差异"
		return preview, nil
	}
	preview.After = after
	return preview, nil
}

// HumanEdit 审阅者在预览上的改写：重放补丁、并入覆盖值、对基线重算差异，
// 生成的新补丁集通过 human_patch_edit 变换取代原集
func (s *PatchService) HumanEdit(patchSetID string, overrides map[string]interface{}) (*models.PatchSet, error) {
	set, err := s.GetPatchSet(patchSetID)
	if err != nil {
		return nil, err
	}
	if set.Status != models.PatchSetPending {
		return nil, apperrors.NewConflictError("补丁集已不在待审状态: "+patchSetID, nil)
	}
	base, err := s.documents.GetDocument(set.BaseDocumentID)
	if err != nil {
		return nil, err
	}

	_, rebuilt, err := patch.Rebuild(base.Content, set.Patches, overrides)
	if err != nil {
		s.metrics.RecordApplyFailure("human_edit")
		return nil, err
	}

	editTransform, err := s.transforms.CreateTransform(set.ProjectID, models.TransformHumanPatchEdit, "", []string{set.ID})
	if err != nil {
		return nil, err
	}

	replacement, err := s.CreatePatchSet(set.ProjectID, editTransform.ID, set.BaseDocumentID, rebuilt)
	if err != nil {
		return nil, err
	}

	if _, err := s.transforms.CompleteTransform(editTransform.ID, nil, replacement.ID, ""); err != nil {
		return nil, err
	}

	set.Status = models.PatchSetSuperseded
	set.SupersededByID = replacement.ID
	set.UpdatedAt = time.Now()
	if err := s.persist(set); err != nil {
		return nil, err
	}
	return replacement, nil
}

// plannedApply 批准第一阶段的产物：校验通过、尚未落盘的应用结果
type plannedApply struct {
	set     *models.PatchSet
	base    *models.Document
	applied json.RawMessage
}

// Approve 批准勾选的补丁集。先整体校验（读取、应用），全部通过才逐个落盘：
// 新文档版本、human_patch_approval 变换、补丁集状态
func (s *PatchService) Approve(projectID string, selectedIDs []string) (*ApprovalResult, error) {
	if len(selectedIDs) == 0 {
		return nil, apperrors.NewValidationError("未勾选任何补丁集", nil)
	}

	planned := make([]plannedApply, 0, len(selectedIDs))
	for _, id := range selectedIDs {
		set, err := s.GetPatchSet(id)
		if err != nil {
			return nil, err
		}
		if set.ProjectID != projectID {
			return nil, apperrors.NewValidationError("补丁集不属于该项目: "+id, nil)
		}
		if set.Status != models.PatchSetPending {
			return nil, apperrors.NewConflictError("补丁集已不在待审状态: "+id, nil)
		}
		base, err := s.documents.GetDocument(set.BaseDocumentID)
		if err != nil {
			return nil, err
		}
		applied, err := patch.Apply(base.Content, set.Patches)
		if err != nil {
			s.metrics.RecordApplyFailure("approve")
			return nil, apperrors.NewPatchApplyError("补丁集 "+id+" 无法应用，整批批准已取消", err)
		}
		planned = append(planned, plannedApply{set: set, base: base, applied: applied})
	}

	result := &ApprovalResult{ApprovedDocuments: make(map[string]string, len(planned))}
	for _, plan := range planned {
		approval, err := s.transforms.CreateTransform(projectID, models.TransformHumanPatchApproval, "", []string{plan.set.ID, plan.base.ID})
		if err != nil {
			return nil, err
		}

		version := s.documents.NextVersion(projectID, plan.base.Kind)
		doc, err := s.documents.CreateDocument(projectID, plan.base.Kind, plan.applied, version)
		if err != nil {
			return nil, err
		}

		if _, err := s.transforms.CompleteTransform(approval.ID, []string{doc.ID}, "", ""); err != nil {
			return nil, err
		}

		plan.set.Status = models.PatchSetApproved
		plan.set.UpdatedAt = time.Now()
		if err := s.persist(plan.set); err != nil {
			return nil, err
		}
		result.ApprovedDocuments[plan.set.ID] = doc.ID
	}

	s.metrics.RecordPatchDecision("approved", len(planned))
	return result, nil
}

// Reject 驳回勾选的补丁集，原始文档不动，谱系里记下驳回变换
func (s *PatchService) Reject(projectID string, selectedIDs []string, reason string) error {
	if len(selectedIDs) == 0 {
		return apperrors.NewValidationError("未勾选任何补丁集", nil)
	}

	sets := make([]*models.PatchSet, 0, len(selectedIDs))
	for _, id := range selectedIDs {
		set, err := s.GetPatchSet(id)
		if err != nil {
			return err
		}
		if set.ProjectID != projectID {
			return apperrors.NewValidationError("补丁集不属于该项目: "+id, nil)
		}
		if set.Status != models.PatchSetPending {
			return apperrors.NewConflictError("补丁集已不在待审状态: "+id, nil)
		}
		sets = append(sets, set)
	}

	for _, set := range sets {
		reject, err := s.transforms.CreateTransform(projectID, models.TransformHumanPatchReject, "", []string{set.ID})
		if err != nil {
			return err
		}
		if _, err := s.transforms.CompleteTransform(reject.ID, nil, "", ""); err != nil {
			return err
		}

		set.Status = models.PatchSetRejected
		set.RejectionReason = reason
		set.UpdatedAt = time.Now()
		if err := s.persist(set); err != nil {
			return err
		}
	}

	s.metrics.RecordPatchDecision("rejected", len(sets))
	return nil
}

func (s *PatchService) persist(set *models.PatchSet) error {
	if err := s.store.WriteJSON(patchSetPath(set.ProjectID, set.ID), set); err != nil {
		return apperrors.NewProcessingError("保存补丁集失败", err)
	}

	s.mu.Lock()
	s.index[set.ID] = set.ProjectID
	s.mu.Unlock()
	return nil
}
