package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sample struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func newStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestWriteReadJSONRoundTrip(t *testing.T) {
	store := newStore(t)

	in := sample{ID: "proj_1", Title: "修仙无限流"}
	require.NoError(t, store.WriteJSON("projects/proj_1/project.json", in))

	var out sample
	require.NoError(t, store.ReadJSON("projects/proj_1/project.json", &out))
	require.Equal(t, in, out)
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.WriteBytes("projects/p/doc.json", []byte(`{}`)))

	entries, err := os.ReadDir(filepath.Join(store.Root(), "projects", "p"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "doc.json", entries[0].Name())
}

func TestReadServesCacheUntilInvalidated(t *testing.T) {
	store := newStore(t)
	rel := "projects/p/doc.json"
	require.NoError(t, store.WriteBytes(rel, []byte(`{"v":1}`)))

	first, err := store.ReadBytes(rel)
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(first))

	// 绕过存储层直接改文件：缓存期内读取仍返回旧内容
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "projects", "p", "doc.json"), []byte(`{"v":2}`), 0644))
	cached, err := store.ReadBytes(rel)
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(cached))

	// 通过存储层写入会同步刷新缓存
	require.NoError(t, store.WriteBytes(rel, []byte(`{"v":3}`)))
	fresh, err := store.ReadBytes(rel)
	require.NoError(t, err)
	require.JSONEq(t, `{"v":3}`, string(fresh))
}

func TestDeleteAndExists(t *testing.T) {
	store := newStore(t)
	rel := "projects/p/doc.json"

	require.False(t, store.Exists(rel))
	require.Error(t, store.Delete(rel))

	require.NoError(t, store.WriteBytes(rel, []byte(`{}`)))
	require.True(t, store.Exists(rel))

	require.NoError(t, store.Delete(rel))
	require.False(t, store.Exists(rel))
	_, err := store.ReadBytes(rel)
	require.Error(t, err)
}

func TestDeleteTreeDropsCachedChildren(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.WriteBytes("projects/p/documents/d1.json", []byte(`{"v":1}`)))
	require.NoError(t, store.WriteBytes("projects/p/documents/d2.json", []byte(`{"v":2}`)))

	require.NoError(t, store.DeleteTree("projects/p"))
	require.False(t, store.Exists("projects/p/documents/d1.json"))
	_, err := store.ReadBytes("projects/p/documents/d2.json")
	require.Error(t, err)
}

func TestListDirsAndFiles(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.WriteBytes("projects/p1/project.json", []byte(`{}`)))
	require.NoError(t, store.WriteBytes("projects/p2/project.json", []byte(`{}`)))
	require.NoError(t, store.WriteBytes("projects/p1/documents/d1.json", []byte(`{}`)))
	require.NoError(t, store.WriteBytes("projects/p1/documents/d2.json", []byte(`{}`)))
	require.NoError(t, store.WriteBytes("projects/p1/documents/notes.txt", []byte(`x`)))

	dirs, err := store.ListDirs("projects")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"p1", "p2"}, dirs)

	files, err := store.ListFiles("projects/p1/documents", "")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"d1", "d2"}, files)

	// 不存在的目录返回空列表而不是错误
	missing, err := store.ListDirs("nope")
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestCacheEvictsLeastRecentlyRead(t *testing.T) {
	cache := newTTLCache(time.Minute, 2)
	cache.put("a", []byte("1"))
	cache.put("b", []byte("2"))

	_, ok := cache.get("a")
	require.True(t, ok)

	// 容量为2，放入第三个后最久未读的 b 被淘汰
	cache.put("c", []byte("3"))
	_, ok = cache.get("b")
	require.False(t, ok)
	_, ok = cache.get("a")
	require.True(t, ok)
	_, ok = cache.get("c")
	require.True(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	cache := newTTLCache(10*time.Millisecond, 8)
	cache.put("a", []byte("1"))

	_, ok := cache.get("a")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = cache.get("a")
	require.False(t, ok)
}
