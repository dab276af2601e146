// internal/storage/file_store.go
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/scriptloom/scriptloom/internal/utils"
)

// FileStore 文件存储服务：项目、文档、变换与补丁集都以JSON文件落盘
// 路径级读写锁保证同一文件的读写互斥，读缓存减少反复反序列化
type FileStore struct {
	root  string
	locks sync.Map // 相对路径 -> *sync.RWMutex
	cache *ttlCache
}

// NewFileStore 创建文件存储服务并确保根目录存在
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &FileStore{
		root:  root,
		cache: newTTLCache(5*time.Minute, 256),
	}, nil
}

// Root 返回存储根目录
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) pathLock(rel string) *sync.RWMutex {
	value, _ := s.locks.LoadOrStore(rel, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (s *FileStore) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// WriteBytes 原子写入：先写临时文件再重命名，避免读到半个文件
func (s *FileStore) WriteBytes(rel string, data []byte) error {
	lock := s.pathLock(rel)
	lock.Lock()
	defer lock.Unlock()

	fullPath := s.abs(rel)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			utils.GetLogger().Warnf("清理临时文件失败 %s: %v", tempPath, removeErr)
		}
		return fmt.Errorf("保存文件失败: %w", err)
	}

	s.cache.put(rel, data)
	return nil
}

// ReadBytes 读取文件，优先命中缓存
func (s *FileStore) ReadBytes(rel string) ([]byte, error) {
	if data, ok := s.cache.get(rel); ok {
		return data, nil
	}

	lock := s.pathLock(rel)
	lock.RLock()
	defer lock.RUnlock()

	// 拿到读锁后再查一次，写入方可能刚填好缓存
	if data, ok := s.cache.get(rel); ok {
		return data, nil
	}

	data, err := os.ReadFile(s.abs(rel))
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	s.cache.put(rel, data)
	return data, nil
}

// WriteJSON 序列化并原子写入
func (s *FileStore) WriteJSON(rel string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	return s.WriteBytes(rel, data)
}

// ReadJSON 读取并反序列化
func (s *FileStore) ReadJSON(rel string, v interface{}) error {
	data, err := s.ReadBytes(rel)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("解析JSON失败: %w", err)
	}
	return nil
}

// Exists 检查文件是否存在
func (s *FileStore) Exists(rel string) bool {
	_, err := os.Stat(s.abs(rel))
	return err == nil
}

// Delete 删除单个文件
func (s *FileStore) Delete(rel string) error {
	lock := s.pathLock(rel)
	lock.Lock()
	defer lock.Unlock()

	fullPath := s.abs(rel)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("文件不存在: %s", rel)
	}
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("删除文件失败: %w", err)
	}
	s.cache.invalidate(rel)
	return nil
}

// DeleteTree 删除目录及其全部内容
func (s *FileStore) DeleteTree(rel string) error {
	lock := s.pathLock(rel)
	lock.Lock()
	defer lock.Unlock()

	fullPath := s.abs(rel)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("目录不存在: %s", rel)
	}
	if err := os.RemoveAll(fullPath); err != nil {
		return fmt.Errorf("删除目录失败: %w", err)
	}
	s.cache.invalidatePrefix(rel)
	return nil
}

// ListDirs 列出子目录名
func (s *FileStore) ListDirs(rel string) ([]string, error) {
	entries, err := os.ReadDir(s.abs(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	return dirs, nil
}

// ListFiles 列出目录下指定扩展名的文件名（不含扩展名），默认 .json
func (s *FileStore) ListFiles(rel, ext string) ([]string, error) {
	if ext == "" {
		ext = ".json"
	}
	entries, err := os.ReadDir(s.abs(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ext))
	}
	return names, nil
}
