package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/frigate-gateway/internal/config"
	"github.com/taoyao-code/frigate-gateway/internal/health"
	"github.com/taoyao-code/frigate-gateway/internal/metrics"
	"github.com/taoyao-code/frigate-gateway/internal/registry"
	redisstorage "github.com/taoyao-code/frigate-gateway/internal/storage/redis"
)

// NewRedisClient 创建Redis客户端；未启用时返回 nil
func NewRedisClient(cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstorage.Client, error) {
	if !cfg.Enabled {
		logger.Info("redis is disabled, skipping instance directory sync")
		return nil, nil
	}

	client, err := redisstorage.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.String("instances_key", client.InstancesKey()),
		zap.Int("pool_size", cfg.PoolSize))

	return client, nil
}

// NewRedisSyncer 以 Redis 实例目录为源创建同步器，同步结果计入指标
func NewRedisSyncer(
	reg *registry.Registry,
	client *redisstorage.Client,
	factory registry.Factory,
	appm *metrics.AppMetrics,
	logger *zap.Logger,
) *registry.Syncer {
	syncer := registry.NewSyncer(reg, client, factory, logger)
	syncer.OnSync(func(err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		appm.RegistrySyncs.WithLabelValues(result).Inc()
	})
	return syncer
}

// AddRedisChecker 添加Redis检查器到聚合器
func AddRedisChecker(aggregator *health.Aggregator, redisClient *redisstorage.Client) {
	if redisClient != nil {
		aggregator.AddChecker(health.NewRedisChecker(redisClient))
	}
}
