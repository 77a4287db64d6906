package app

import (
	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/frigate-gateway/internal/health"
	"github.com/taoyao-code/frigate-gateway/internal/registry"
)

// NewHealthAggregator 创建健康检查聚合器，初始只探测 Frigate 实例
func NewHealthAggregator(reg *registry.Registry) *health.Aggregator {
	return health.NewAggregator(
		health.NewFrigateChecker(reg),
	)
}

// NewReady 启动阶段就绪标记
func NewReady() *health.Readiness {
	return health.New()
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}
