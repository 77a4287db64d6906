// Package registry 维护 Frigate 实例 ID 到后端客户端的映射
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound 实例不存在
var ErrNotFound = errors.New("frigate instance not found")

// Backend 网关所需的 Frigate 后端能力；返回值为原样透传的 JSON
type Backend interface {
	Retain(ctx context.Context, eventID string, retain bool) (json.RawMessage, error)
	GetRecordings(ctx context.Context, camera string, after, before *int64) (json.RawMessage, error)
	GetRecordingsSummary(ctx context.Context, camera string) (json.RawMessage, error)
}

// Resolver 按实例 ID 查找后端，未找到返回 ok=false
type Resolver interface {
	Resolve(instanceID string) (Backend, bool)
}

// Registry 内存实例表，可并发使用
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	onChange func(n int)
}

// New 创建空注册表
func New() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// OnChange 设置实例数变化回调（用于指标）
func (r *Registry) OnChange(fn func(n int)) {
	r.mu.Lock()
	r.onChange = fn
	n := len(r.backends)
	r.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

// Resolve 纯内存查找
func (r *Registry) Resolve(instanceID string) (Backend, bool) {
	r.mu.RLock()
	b, ok := r.backends[instanceID]
	r.mu.RUnlock()
	return b, ok
}

// Get 与 Resolve 相同，但以 error 形式返回未找到
func (r *Registry) Get(instanceID string) (Backend, error) {
	if b, ok := r.Resolve(instanceID); ok {
		return b, nil
	}
	return nil, ErrNotFound
}

// Register 注册或替换实例
func (r *Registry) Register(instanceID string, b Backend) {
	r.mu.Lock()
	r.backends[instanceID] = b
	n, fn := len(r.backends), r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

// Unregister 移除实例，返回是否存在
func (r *Registry) Unregister(instanceID string) bool {
	r.mu.Lock()
	_, ok := r.backends[instanceID]
	delete(r.backends, instanceID)
	n, fn := len(r.backends), r.onChange
	r.mu.Unlock()
	if ok && fn != nil {
		fn(n)
	}
	return ok
}

// IDs 返回排序后的实例 ID
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len 实例数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}
