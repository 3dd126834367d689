package rerun

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Record 模块最近一次成功运行的记录（对外导出）
// 零值表示没有记录
type Record struct {
	Timestamp int64 `yaml:"timestamp"`  // 毫秒
	StartDate int   `yaml:"start_date"` // YYYYMMDD
	EndDate   int   `yaml:"end_date"`   // YYYYMMDD
}

// IsZero 是否为空记录
func (r Record) IsZero() bool {
	return r == Record{}
}

// Store rerun记录的持久化接口（对外导出）
type Store interface {
	// Load 读取记录，不存在时返回 (Record{}, false, nil)
	Load(name string) (Record, bool, error)
	// Save 原子写入记录
	Save(name string, rec Record) error
	// Delete 删除记录，不存在时不报错
	Delete(name string) error
	// Exists 记录是否存在
	Exists(name string) bool
	// List 列出全部有记录的模块名（已排序）
	List() ([]string, error)
}

const recordExt = ".yml"

// FileStore 每个模块一个YAML文件：<dir>/<module>.yml
type FileStore struct {
	dir string
}

// NewFileStore 创建FileStore，目录不存在时自动创建
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建rerun目录失败: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// OpenFileStore 打开已存在的目录，不创建（用于只读的系统缓存）
func OpenFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir 存储目录
func (s *FileStore) Dir() string {
	return s.dir
}

// Path 模块记录文件路径
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name+recordExt)
}

func (s *FileStore) Load(name string) (Record, bool, error) {
	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("读取rerun记录失败: %s: %w", name, err)
	}
	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("解析rerun记录失败: %s: %w", name, err)
	}
	return rec, true, nil
}

// Save 先写临时文件再rename，读者不会看到写了一半的记录
func (s *FileStore) Save(name string, rec Record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("序列化rerun记录失败: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("写入rerun记录失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.Path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("保存rerun记录失败: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除rerun记录失败: %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取rerun目录失败: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, recordExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(n, recordExt))
	}
	sort.Strings(names)
	return names, nil
}

// MemoryStore 内存实现，用于测试以及不需要持久化的场景
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore 创建MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Load(name string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[name]
	return rec, ok, nil
}

func (s *MemoryStore) Save(name string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[name] = rec
	return nil
}

func (s *MemoryStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, name)
	return nil
}

func (s *MemoryStore) Exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[name]
	return ok
}

func (s *MemoryStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.records))
	for n := range s.records {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
