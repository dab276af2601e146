// internal/services/transform_service.go
package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/lineage"
	"github.com/scriptloom/scriptloom/internal/models"
	"github.com/scriptloom/scriptloom/internal/storage"
	"github.com/scriptloom/scriptloom/internal/utils"
)

// TransformService 变换记录的持久化与谱系图维护
// 图里只存记录的副本，磁盘文件是事实来源
type TransformService struct {
	store *storage.FileStore
	graph *lineage.Graph
	locks *LockManager
}

// NewTransformService 创建变换服务并从磁盘重建谱系图
func NewTransformService(store *storage.FileStore, graph *lineage.Graph, locks *LockManager) *TransformService {
	s := &TransformService{store: store, graph: graph, locks: locks}
	s.rebuildGraph()
	return s
}

func transformPath(projectID, transformID string) string {
	return fmt.Sprintf("projects/%s/transforms/%s.json", projectID, transformID)
}

func (s *TransformService) rebuildGraph() {
	projects, err := s.store.ListDirs("projects")
	if err != nil {
		utils.GetLogger().Warnf("重建谱系图失败: %v", err)
		return
	}

	for _, projectID := range projects {
		ids, err := s.store.ListFiles("projects/"+projectID+"/transforms", "")
		if err != nil {
			continue
		}
		for _, id := range ids {
			var t models.Transform
			if err := s.store.ReadJSON(transformPath(projectID, id), &t); err != nil {
				continue
			}
			s.graph.AddTransform(&t)
		}
	}
}

// Graph 返回共享的谱系图
func (s *TransformService) Graph() *lineage.Graph {
	return s.graph
}

// CreateTransform 创建 running 状态的变换记录
func (s *TransformService) CreateTransform(projectID string, ttype models.TransformType, stage string, inputIDs []string) (*models.Transform, error) {
	t := &models.Transform{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Type:      ttype,
		Status:    models.TransformRunning,
		Stage:     stage,
		InputIDs:  inputIDs,
		CreatedAt: time.Now(),
	}

	if err := s.persist(t); err != nil {
		return nil, err
	}
	return s.copyOf(t), nil
}

// CompleteTransform 收尾：记录产物、补丁集与原始流文本
func (s *TransformService) CompleteTransform(transformID string, outputIDs []string, patchSetID, rawContent string) (*models.Transform, error) {
	return s.update(transformID, func(t *models.Transform) {
		t.Status = models.TransformCompleted
		t.OutputIDs = outputIDs
		t.PatchSetID = patchSetID
		t.RawContent = rawContent
		t.CompletedAt = time.Now()
	})
}

// FailTransform 标记失败并保留已积累的流文本，失败的流也可以恢复部分结果
func (s *TransformService) FailTransform(transformID string, cause error, rawContent string) (*models.Transform, error) {
	return s.update(transformID, func(t *models.Transform) {
		t.Status = models.TransformFailed
		if cause != nil {
			t.Error = cause.Error()
		}
		t.RawContent = rawContent
		t.CompletedAt = time.Now()
	})
}

// SaveRawContent 把运行中变换已积累的流文本落盘，进程崩溃后可据此恢复部分结果
func (s *TransformService) SaveRawContent(transformID, rawContent string) error {
	_, err := s.update(transformID, func(t *models.Transform) {
		if t.IsTerminal() {
			return
		}
		t.RawContent = rawContent
	})
	return err
}

// GetTransform 按ID读取变换记录的副本
func (s *TransformService) GetTransform(transformID string) (*models.Transform, error) {
	stored, ok := s.graph.Transform(transformID)
	if !ok {
		return nil, apperrors.NewNotFoundError("变换记录不存在: "+transformID, nil)
	}
	return s.copyOf(stored), nil
}

// ListTransforms 列出项目的变换记录副本
func (s *TransformService) ListTransforms(projectID string) []*models.Transform {
	stored := s.graph.ProjectTransforms(projectID)
	out := make([]*models.Transform, 0, len(stored))
	for _, t := range stored {
		out = append(out, s.copyOf(t))
	}
	return out
}

func (s *TransformService) update(transformID string, mutate func(*models.Transform)) (*models.Transform, error) {
	stored, ok := s.graph.Transform(transformID)
	if !ok {
		return nil, apperrors.NewNotFoundError("变换记录不存在: "+transformID, nil)
	}
	projectID := stored.ProjectID

	var updated *models.Transform
	err := s.locks.WithLock("transform:"+transformID, func() error {
		var t models.Transform
		if err := s.store.ReadJSON(transformPath(projectID, transformID), &t); err != nil {
			return apperrors.NewProcessingError("读取变换记录失败", err)
		}
		mutate(&t)
		updated = &t
		return s.persist(&t)
	})
	if err != nil {
		return nil, err
	}
	return s.copyOf(updated), nil
}

func (s *TransformService) persist(t *models.Transform) error {
	if err := s.store.WriteJSON(transformPath(t.ProjectID, t.ID), t); err != nil {
		return apperrors.NewProcessingError("保存变换记录失败", err)
	}
	s.graph.AddTransform(s.copyOf(t))
	s.graph.Broadcast(t.ProjectID)
	return nil
}

// copyOf 深拷贝记录，图和调用方各拿各的，互不影响
func (s *TransformService) copyOf(t *models.Transform) *models.Transform {
	c := *t
	c.InputIDs = append([]string(nil), t.InputIDs...)
	c.OutputIDs = append([]string(nil), t.OutputIDs...)
	return &c
}
