package artifact

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"healthrisk/logging"
)

const DefaultCacheSize = 8

// Observer 接收制品加载与淘汰事件，用于指标统计
type Observer interface {
	BundleLoaded(name string, elapsed time.Duration, err error)
	BundleEvicted(name string, reason string)
}

// RegistryConfig 制品仓库配置
type RegistryConfig struct {
	Dir          string
	CacheEnabled bool
	CacheSize    int
	Watch        bool
	Observer     Observer
}

// Registry 按名称解析制品包。启用缓存时进程内共享只读实例，
// 文件变化时淘汰对应条目
type Registry struct {
	dir      string
	cache    *lru.Cache[string, *Bundle]
	group    singleflight.Group
	watcher  *Watcher
	observer Observer

	// cacheMu 串行化缓存写入与失效，不能与 mu 合并：淘汰回调会获取 mu
	cacheMu sync.Mutex

	mu          sync.Mutex
	generations map[string]uint64
	reasons     map[string]string
}

// NewRegistry 创建制品仓库
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	r := &Registry{
		dir:         cfg.Dir,
		observer:    cfg.Observer,
		generations: make(map[string]uint64),
		reasons:     make(map[string]string),
	}
	if !cfg.CacheEnabled {
		return r, nil
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.NewWithEvict[string, *Bundle](size, r.onEvicted)
	if err != nil {
		return nil, fmt.Errorf("创建制品缓存失败: %w", err)
	}
	r.cache = cache

	if cfg.Watch {
		w, err := NewWatcher(func(name string) { r.invalidate(name, "changed") })
		if err != nil {
			return nil, err
		}
		r.watcher = w
	}
	return r, nil
}

func (r *Registry) CacheEnabled() bool {
	return r.cache != nil
}

// Dir 返回制品包所在目录，名称不能逃逸出仓库根目录
func (r *Registry) Dir(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: invalid bundle name %q", ErrArtifact, name)
	}
	return filepath.Join(r.dir, name), nil
}

// Get 返回指定名称的制品包
func (r *Registry) Get(name string) (*Bundle, error) {
	if r.cache == nil {
		return r.load(name)
	}
	if b, ok := r.cache.Get(name); ok {
		return b, nil
	}

	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		if b, ok := r.cache.Get(name); ok {
			return b, nil
		}
		// 先监听再加载，加载期间的文件变化会递增代数
		r.cacheMu.Lock()
		gen := r.generation(name)
		r.watch(name)
		r.cacheMu.Unlock()

		b, err := r.load(name)
		if err != nil {
			return nil, err
		}

		r.cacheMu.Lock()
		defer r.cacheMu.Unlock()
		if r.generation(name) == gen {
			r.cache.Add(name, b)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Bundle), nil
}

func (r *Registry) watch(name string) {
	if r.watcher == nil {
		return
	}
	dir, err := r.Dir(name)
	if err != nil {
		return
	}
	if err := r.watcher.Watch(name, dir); err != nil {
		logging.L().Warn("watch bundle failed", zap.String("bundle", name), zap.Error(err))
	}
}

func (r *Registry) load(name string) (*Bundle, error) {
	dir, err := r.Dir(name)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	b, err := LoadBundle(dir)
	elapsed := time.Since(start)
	if r.observer != nil {
		r.observer.BundleLoaded(name, elapsed, err)
	}
	if err != nil {
		logging.L().Error("load bundle failed", zap.String("bundle", name), zap.Error(err))
		return nil, err
	}
	logging.L().Debug("bundle loaded",
		zap.String("bundle", name),
		zap.String("version", b.Manifest.Version),
		zap.String("run_id", b.Manifest.RunID),
		zap.Duration("elapsed", elapsed))
	return b, nil
}

func (r *Registry) generation(name string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[name]
}

func (r *Registry) invalidate(name, reason string) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.mu.Lock()
	r.generations[name]++
	r.reasons[name] = reason
	r.mu.Unlock()

	if r.cache != nil && r.cache.Remove(name) {
		logging.L().Info("bundle evicted", zap.String("bundle", name), zap.String("reason", reason))
	}

	r.mu.Lock()
	delete(r.reasons, name)
	r.mu.Unlock()
}

// onEvicted 由缓存在删除或容量淘汰时调用
func (r *Registry) onEvicted(name string, _ *Bundle) {
	r.mu.Lock()
	reason, ok := r.reasons[name]
	r.mu.Unlock()
	if !ok {
		reason = "capacity"
	}

	if r.watcher != nil {
		r.watcher.Unwatch(name)
	}
	if r.observer != nil {
		r.observer.BundleEvicted(name, reason)
	}
}

// Evict 从缓存中移除指定制品包
func (r *Registry) Evict(name string) {
	r.invalidate(name, "manual")
}

// Purge 清空缓存
func (r *Registry) Purge() {
	if r.cache == nil {
		return
	}
	for _, name := range r.cache.Keys() {
		r.invalidate(name, "purge")
	}
}

// Cached 返回当前缓存中的制品包名称
func (r *Registry) Cached() []string {
	if r.cache == nil {
		return nil
	}
	return r.cache.Keys()
}

func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
