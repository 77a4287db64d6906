package health

import "sync/atomic"

// Readiness 启动阶段就绪标记（注册表加载、HTTP 监听）
type Readiness struct {
	registryReady atomic.Bool
	httpReady     atomic.Bool
}

func New() *Readiness { return &Readiness{} }

func (r *Readiness) SetRegistryReady(v bool) { r.registryReady.Store(v) }
func (r *Readiness) SetHTTPReady(v bool)     { r.httpReady.Store(v) }

// Ready 总体就绪：各阶段均为 true
func (r *Readiness) Ready() bool {
	return r.registryReady.Load() && r.httpReady.Load()
}
