// Package rerun 实现增量运行缓存：记录每个模块上次成功运行的时间与日期窗口，
// 判断本次运行能否跳过
package rerun

import (
	"fmt"
	"sync"
	"time"
)

// Cache rerun缓存（对外导出）
// 每次运行创建一个实例，不使用包级单例
type Cache struct {
	mu       sync.Mutex
	store    Store
	fallback Store
	memo     map[string]Record

	startDate int
	endDate   int

	now func() time.Time
}

// Option Cache构造选项
type Option func(*Cache)

// WithFallback 本地没有记录时从fallback读取（user模式下读取系统缓存的记录）
func WithFallback(s Store) Option {
	return func(c *Cache) { c.fallback = s }
}

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache 创建Cache
func NewCache(store Store, opts ...Option) *Cache {
	c := &Cache{
		store: store,
		memo:  make(map[string]Record),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store 底层存储
func (c *Cache) Store() Store {
	return c.store
}

// SetDates 设置本次运行请求的日期窗口
func (c *Cache) SetDates(start, end int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startDate = start
	c.endDate = end
}

// Dates 本次运行请求的日期窗口
func (c *Cache) Dates() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startDate, c.endDate
}

// Get 读取模块记录，首次读取后缓存在内存中，没有记录时返回零值
func (c *Cache) Get(name string) Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.memo[name]; ok {
		return rec
	}
	return c.loadLocked(name)
}

// loadLocked 从存储读取并刷新内存缓存，读取失败按没有记录处理
func (c *Cache) loadLocked(name string) Record {
	rec, ok, err := c.store.Load(name)
	if err != nil {
		rec = Record{}
	}
	if !ok && err == nil && c.fallback != nil {
		if frec, fok, ferr := c.fallback.Load(name); ferr == nil && fok {
			rec = frec
		}
	}
	c.memo[name] = rec
	return rec
}

// CanSkip 按SetDates设置的窗口判断能否跳过
func (c *Cache) CanSkip(name string, deps []string) bool {
	start, end := c.Dates()
	return c.CanSkipRange(name, deps, start, end)
}

// CanSkipRange 判断模块能否跳过（对外导出）
// 条件：记录的start_date等于请求的start，end_date不早于请求的end，
// 且所有依赖的时间戳都不晚于自身。
// 依赖的记录可能被其他worker进程更新，因此这里总是重新读取存储
func (c *Cache) CanSkipRange(name string, deps []string, start, end int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.loadLocked(name)
	if rec.IsZero() {
		return false
	}
	if rec.StartDate != start || rec.EndDate < end {
		return false
	}
	for _, dep := range deps {
		if c.loadLocked(dep).Timestamp > rec.Timestamp {
			return false
		}
	}
	return true
}

// RecordBeforeRun 运行前删除记录，运行失败时不会留下过期记录
func (c *Cache) RecordBeforeRun(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Delete(name); err != nil {
		return err
	}
	c.memo[name] = Record{}
	return nil
}

// RecordRun 运行成功后写入 {当前毫秒时间戳, start, end}
func (c *Cache) RecordRun(name string) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := Record{
		Timestamp: c.now().UnixMilli(),
		StartDate: c.startDate,
		EndDate:   c.endDate,
	}
	if err := c.store.Save(name, rec); err != nil {
		return Record{}, fmt.Errorf("记录模块 %s 运行结果失败: %w", name, err)
	}
	c.memo[name] = rec
	return rec, nil
}

// Forget 清除内存中的缓存
func (c *Cache) Forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.memo, name)
}
