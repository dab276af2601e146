// internal/services/document_service.go
package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/models"
	"github.com/scriptloom/scriptloom/internal/storage"
	"github.com/scriptloom/scriptloom/internal/utils"
)

// DefaultAutosaveWindow 自动保存合并窗口
const DefaultAutosaveWindow = 800 * time.Millisecond

// DocumentService 文档版本的读写，以及字段级修改的合并自动保存
// 同一文档在一个窗口内的多次字段修改合并为一次落盘，后写的键覆盖先写的
type DocumentService struct {
	store  *storage.FileStore
	locks  *LockManager
	logger *utils.Logger

	autosaveWindow time.Duration

	mu      sync.Mutex
	index   map[string]string // documentID -> projectID
	pending map[string]*pendingSave
}

type pendingSave struct {
	fields map[string]interface{}
	timer  *time.Timer
}

// NewDocumentService 创建文档服务并重建文档索引
func NewDocumentService(store *storage.FileStore, locks *LockManager, autosaveWindow time.Duration) *DocumentService {
	if autosaveWindow <= 0 {
		autosaveWindow = DefaultAutosaveWindow
	}
	s := &DocumentService{
		store:          store,
		locks:          locks,
		logger:         utils.GetLogger(),
		autosaveWindow: autosaveWindow,
		index:          make(map[string]string),
		pending:        make(map[string]*pendingSave),
	}
	s.rebuildIndex()
	return s
}

func documentPath(projectID, documentID string) string {
	return fmt.Sprintf("projects/%s/documents/%s.json", projectID, documentID)
}

// rebuildIndex 扫描存储目录，恢复 documentID 到 projectID 的映射
func (s *DocumentService) rebuildIndex() {
	projects, err := s.store.ListDirs("projects")
	if err != nil {
		s.logger.Warnf("重建文档索引失败: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, projectID := range projects {
		docs, err := s.store.ListFiles("projects/"+projectID+"/documents", "")
		if err != nil {
			continue
		}
		for _, docID := range docs {
			s.index[docID] = projectID
		}
	}
}

func (s *DocumentService) projectFor(documentID string) (string, bool) {
	s.mu.Lock()
	projectID, ok := s.index[documentID]
	s.mu.Unlock()
	if ok {
		return projectID, true
	}

	// 索引可能落后于磁盘（例如另一个实例写入），补扫一次
	s.rebuildIndex()
	s.mu.Lock()
	projectID, ok = s.index[documentID]
	s.mu.Unlock()
	return projectID, ok
}

// CreateDocument 写入一个新的文档版本
func (s *DocumentService) CreateDocument(projectID string, kind models.DocumentKind, content json.RawMessage, version int) (*models.Document, error) {
	if version <= 0 {
		version = 1
	}
	now := time.Now()
	doc := &models.Document{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Kind:        kind,
		Content:     content,
		Version:     version,
		CreatedAt:   now,
		LastUpdated: now,
	}

	if err := s.store.WriteJSON(documentPath(projectID, doc.ID), doc); err != nil {
		return nil, apperrors.NewProcessingError("保存文档失败", err)
	}

	s.mu.Lock()
	s.index[doc.ID] = projectID
	s.mu.Unlock()
	return doc, nil
}

// GetDocument 按ID读取文档
func (s *DocumentService) GetDocument(documentID string) (*models.Document, error) {
	projectID, ok := s.projectFor(documentID)
	if !ok {
		return nil, apperrors.NewNotFoundError("文档不存在: "+documentID, nil)
	}

	var doc models.Document
	if err := s.store.ReadJSON(documentPath(projectID, documentID), &doc); err != nil {
		return nil, apperrors.NewProcessingError("读取文档失败", err)
	}
	return &doc, nil
}

// ListDocuments 列出项目的全部文档版本，按创建时间排序
func (s *DocumentService) ListDocuments(projectID string) ([]*models.Document, error) {
	ids, err := s.store.ListFiles("projects/"+projectID+"/documents", "")
	if err != nil {
		return nil, apperrors.NewProcessingError("列出文档失败", err)
	}

	docs := make([]*models.Document, 0, len(ids))
	for _, id := range ids {
		var doc models.Document
		if err := s.store.ReadJSON(documentPath(projectID, id), &doc); err != nil {
			continue
		}
		docs = append(docs, &doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}

// LatestDocument 返回指定类型的最高版本文档，没有则返回 NotFound
func (s *DocumentService) LatestDocument(projectID string, kind models.DocumentKind) (*models.Document, error) {
	docs, err := s.ListDocuments(projectID)
	if err != nil {
		return nil, err
	}

	var latest *models.Document
	for _, doc := range docs {
		if doc.Kind != kind {
			continue
		}
		if latest == nil || doc.Version > latest.Version {
			latest = doc
		}
	}
	if latest == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("项目 %s 没有 %s 类型的文档", projectID, kind), nil)
	}
	return latest, nil
}

// NextVersion 计算指定类型的下一个版本号
func (s *DocumentService) NextVersion(projectID string, kind models.DocumentKind) int {
	latest, err := s.LatestDocument(projectID, kind)
	if err != nil {
		return 1
	}
	return latest.Version + 1
}

// UpdateContent 整体替换文档内容，后写覆盖先写
func (s *DocumentService) UpdateContent(documentID string, content json.RawMessage) (*models.Document, error) {
	projectID, ok := s.projectFor(documentID)
	if !ok {
		return nil, apperrors.NewNotFoundError("文档不存在: "+documentID, nil)
	}

	var updated *models.Document
	err := s.locks.WithLock("document:"+documentID, func() error {
		var doc models.Document
		if err := s.store.ReadJSON(documentPath(projectID, documentID), &doc); err != nil {
			return apperrors.NewProcessingError("读取文档失败", err)
		}
		doc.Content = content
		doc.LastUpdated = time.Now()
		if err := s.store.WriteJSON(documentPath(projectID, documentID), &doc); err != nil {
			return apperrors.NewProcessingError("保存文档失败", err)
		}
		updated = &doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// QueueSave 排队一次字段级修改；窗口内的修改合并为一次写盘
func (s *DocumentService) QueueSave(documentID string, fields map[string]interface{}) {
	if len(fields) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if save, exists := s.pending[documentID]; exists {
		for k, v := range fields {
			save.fields[k] = v
		}
		return
	}

	merged := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		merged[k] = v
	}
	s.pending[documentID] = &pendingSave{
		fields: merged,
		timer: time.AfterFunc(s.autosaveWindow, func() {
			s.flush(documentID)
		}),
	}
}

// Flush 立即落盘指定文档的待保存字段
func (s *DocumentService) Flush(documentID string) {
	s.mu.Lock()
	save, exists := s.pending[documentID]
	if exists && save.timer != nil {
		save.timer.Stop()
	}
	s.mu.Unlock()

	if exists {
		s.flush(documentID)
	}
}

// FlushAll 落盘所有待保存字段，服务关停前调用
func (s *DocumentService) FlushAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id, save := range s.pending {
		if save.timer != nil {
			save.timer.Stop()
		}
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.flush(id)
	}
}

func (s *DocumentService) flush(documentID string) {
	s.mu.Lock()
	save, exists := s.pending[documentID]
	if !exists {
		s.mu.Unlock()
		return
	}
	delete(s.pending, documentID)
	fields := save.fields
	s.mu.Unlock()

	if err := s.mergeFields(documentID, fields); err != nil {
		s.logger.Warnf("自动保存失败 %s: %v", documentID, err)
	}
}

// mergeFields 把字段并入文档内容对象；内容不是JSON对象时拒绝
func (s *DocumentService) mergeFields(documentID string, fields map[string]interface{}) error {
	projectID, ok := s.projectFor(documentID)
	if !ok {
		return apperrors.NewNotFoundError("文档不存在: "+documentID, nil)
	}

	return s.locks.WithLock("document:"+documentID, func() error {
		var doc models.Document
		if err := s.store.ReadJSON(documentPath(projectID, documentID), &doc); err != nil {
			return apperrors.NewProcessingError("读取文档失败", err)
		}

		content := make(map[string]interface{})
		if len(doc.Content) > 0 {
			if err := json.Unmarshal(doc.Content, &content); err != nil {
				return apperrors.NewValidationError("文档内容不是对象，无法按字段更新", err)
			}
		}
		for k, v := range fields {
			content[k] = v
		}

		raw, err := json.Marshal(content)
		if err != nil {
			return apperrors.NewProcessingError("序列化文档内容失败", err)
		}
		doc.Content = raw
		doc.LastUpdated = time.Now()
		return s.store.WriteJSON(documentPath(projectID, documentID), &doc)
	})
}
