// internal/services/project_service.go
package services

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/models"
	"github.com/scriptloom/scriptloom/internal/storage"
)

// ProjectService 项目生命周期管理
type ProjectService struct {
	store *storage.FileStore
	locks *LockManager
}

// NewProjectService 创建项目服务
func NewProjectService(store *storage.FileStore, locks *LockManager) *ProjectService {
	return &ProjectService{store: store, locks: locks}
}

func projectPath(projectID string) string {
	return fmt.Sprintf("projects/%s/project.json", projectID)
}

// CreateProject 创建新项目
func (s *ProjectService) CreateProject(title, genre, platform, requirements string) (*models.Project, error) {
	if strings.TrimSpace(title) == "" {
		return nil, apperrors.NewValidationError("项目标题不能为空", nil)
	}

	now := time.Now()
	project := &models.Project{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(title),
		Genre:        genre,
		Platform:     platform,
		Requirements: requirements,
		CreatedAt:    now,
		LastUpdated:  now,
	}

	if err := s.store.WriteJSON(projectPath(project.ID), project); err != nil {
		return nil, apperrors.NewProcessingError("保存项目失败", err)
	}
	return project, nil
}

// GetProject 按ID读取项目
func (s *ProjectService) GetProject(projectID string) (*models.Project, error) {
	if !s.store.Exists(projectPath(projectID)) {
		return nil, apperrors.NewNotFoundError("项目不存在: "+projectID, nil)
	}

	var project models.Project
	if err := s.store.ReadJSON(projectPath(projectID), &project); err != nil {
		return nil, apperrors.NewProcessingError("读取项目失败", err)
	}
	return &project, nil
}

// ListProjects 列出全部项目，最近更新在前
func (s *ProjectService) ListProjects() ([]*models.Project, error) {
	ids, err := s.store.ListDirs("projects")
	if err != nil {
		return nil, apperrors.NewProcessingError("列出项目失败", err)
	}

	projects := make([]*models.Project, 0, len(ids))
	for _, id := range ids {
		project, err := s.GetProject(id)
		if err != nil {
			// 跳过损坏的项目目录，不让单个坏条目拖垮列表
			continue
		}
		projects = append(projects, project)
	}

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].LastUpdated.After(projects[j].LastUpdated)
	})
	return projects, nil
}

// TouchProject 更新项目的最后活动时间
func (s *ProjectService) TouchProject(projectID string) {
	_ = s.locks.WithLock("project:"+projectID, func() error {
		project, err := s.GetProject(projectID)
		if err != nil {
			return err
		}
		project.LastUpdated = time.Now()
		return s.store.WriteJSON(projectPath(projectID), project)
	})
}

// DeleteProject 删除项目及其全部文档、变换与补丁集
func (s *ProjectService) DeleteProject(projectID string) error {
	return s.locks.WithLock("project:"+projectID, func() error {
		if !s.store.Exists(projectPath(projectID)) {
			return apperrors.NewNotFoundError("项目不存在: "+projectID, nil)
		}
		if err := s.store.DeleteTree("projects/" + projectID); err != nil {
			return apperrors.NewProcessingError("删除项目失败", err)
		}
		return nil
	})
}
