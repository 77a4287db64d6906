package app

import (
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/frigate-gateway/internal/config"
	"github.com/taoyao-code/frigate-gateway/internal/frigate"
	"github.com/taoyao-code/frigate-gateway/internal/metrics"
	"github.com/taoyao-code/frigate-gateway/internal/registry"
)

// NewFrigateFactory 按实例配置构造 Frigate 客户端；实例未设置超时时使用全局值
func NewFrigateFactory(cfg cfgpkg.FrigateConfig, appm *metrics.AppMetrics, logger *zap.Logger) registry.Factory {
	return func(inst cfgpkg.InstanceConfig) (registry.Backend, error) {
		timeout := inst.Timeout
		if timeout <= 0 {
			timeout = cfg.Timeout
		}
		c, err := frigate.NewClient(frigate.Options{
			BaseURL:          inst.URL,
			Username:         inst.Username,
			Password:         inst.Password,
			Timeout:          timeout,
			RatePerSec:       cfg.RatePerSec,
			Burst:            cfg.Burst,
			Retries:          cfg.Retries,
			BreakerThreshold: cfg.BreakerThreshold,
			BreakerCooldown:  cfg.BreakerCooldown,
			OnBreakerChange: func(from, to frigate.BreakerState) {
				logger.Warn("frigate circuit breaker state changed",
					zap.String("instance", inst.ID),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
				if appm != nil {
					appm.BreakerChanges.WithLabelValues(inst.ID, to.String()).Inc()
				}
			},
			Observe: func(op string, d time.Duration, err error) {
				if appm == nil {
					return
				}
				result := "ok"
				if err != nil {
					result = "error"
				}
				appm.BackendDuration.WithLabelValues(op, result).Observe(d.Seconds())
			},
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// NewRegistry 创建注册表并加载静态实例（内联配置 + 实例文件）
func NewRegistry(cfg cfgpkg.FrigateConfig, factory registry.Factory, appm *metrics.AppMetrics, logger *zap.Logger) (*registry.Registry, error) {
	reg := registry.New()
	if appm != nil {
		reg.OnChange(func(n int) { appm.Instances.Set(float64(n)) })
	}

	instances := append([]cfgpkg.InstanceConfig(nil), cfg.Instances...)
	if cfg.InstancesFile != "" {
		fromFile, err := registry.LoadFile(cfg.InstancesFile)
		if err != nil {
			return nil, err
		}
		logger.Info("frigate instances file loaded",
			zap.String("path", cfg.InstancesFile),
			zap.Int("count", len(fromFile)))
		instances = append(instances, fromFile...)
	}

	if err := reg.Load(instances, factory); err != nil {
		return nil, err
	}
	logger.Info("frigate registry loaded", zap.Strings("instances", reg.IDs()))
	return reg, nil
}
