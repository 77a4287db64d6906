package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/frigate-gateway/internal/config"
)

// Source 共享实例目录：实例 ID -> 实例 JSON
type Source interface {
	Instances(ctx context.Context) (map[string]string, error)
}

// directoryEntry 目录中单个实例的 JSON 值
type directoryEntry struct {
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

func parseEntry(id, raw string) (cfgpkg.InstanceConfig, error) {
	var ri directoryEntry
	if err := json.Unmarshal([]byte(raw), &ri); err != nil {
		return cfgpkg.InstanceConfig{}, fmt.Errorf("decode instance %s: %w", id, err)
	}
	if ri.URL == "" {
		return cfgpkg.InstanceConfig{}, fmt.Errorf("instance %s: url is required", id)
	}
	inst := cfgpkg.InstanceConfig{ID: id, URL: ri.URL, Username: ri.Username, Password: ri.Password}
	if ri.Timeout != "" {
		d, err := time.ParseDuration(ri.Timeout)
		if err != nil {
			return cfgpkg.InstanceConfig{}, fmt.Errorf("instance %s: timeout: %w", id, err)
		}
		inst.Timeout = d
	}
	return inst, nil
}

// Syncer 将共享实例目录同步到内存注册表。
// 只管理自己写入的条目；与静态配置同名的实例以静态配置为准。
type Syncer struct {
	reg     *Registry
	src     Source
	factory Factory
	logger  *zap.Logger
	onSync  func(err error)

	mu    sync.Mutex
	owned map[string]string // id -> 上次同步的原始值
}

// NewSyncer 创建同步器
func NewSyncer(reg *Registry, src Source, factory Factory, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		reg:     reg,
		src:     src,
		factory: factory,
		logger:  logger,
		owned:   make(map[string]string),
	}
}

// OnSync 设置每次同步结束后的回调
func (s *Syncer) OnSync(fn func(err error)) {
	s.onSync = fn
}

// Sync 执行一次同步，返回当前由目录管理的实例数
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	entries, err := s.src.Instances(ctx)
	if err != nil {
		err = fmt.Errorf("list directory instances: %w", err)
		s.notify(err)
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, raw := range entries {
		if prev, ok := s.owned[id]; ok && prev == raw {
			continue
		}
		if _, ok := s.owned[id]; !ok {
			if _, static := s.reg.Resolve(id); static {
				s.logger.Warn("directory instance shadowed by static config", zap.String("instance_id", id))
				continue
			}
		}
		inst, err := parseEntry(id, raw)
		if err != nil {
			s.logger.Warn("skip invalid directory instance", zap.String("instance_id", id), zap.Error(err))
			continue
		}
		b, err := s.factory(inst)
		if err != nil {
			s.logger.Warn("build directory instance failed", zap.String("instance_id", id), zap.Error(err))
			continue
		}
		s.reg.Register(id, b)
		s.owned[id] = raw
		s.logger.Info("directory instance registered", zap.String("instance_id", id), zap.String("url", inst.URL))
	}

	for id := range s.owned {
		if _, ok := entries[id]; !ok {
			s.reg.Unregister(id)
			delete(s.owned, id)
			s.logger.Info("directory instance removed", zap.String("instance_id", id))
		}
	}

	s.notify(nil)
	return len(s.owned), nil
}

// Run 按 interval 周期同步，直到 ctx 取消
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("instance directory sync failed", zap.Error(err))
			}
		}
	}
}

func (s *Syncer) notify(err error) {
	if s.onSync != nil {
		s.onSync(err)
	}
}
