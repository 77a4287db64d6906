package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/frigate-gateway/internal/api/middleware"
	"github.com/taoyao-code/frigate-gateway/internal/app"
	cfgpkg "github.com/taoyao-code/frigate-gateway/internal/config"
	"github.com/taoyao-code/frigate-gateway/internal/health"
	"github.com/taoyao-code/frigate-gateway/internal/httpserver"
	"github.com/taoyao-code/frigate-gateway/internal/metrics"
	"github.com/taoyao-code/frigate-gateway/internal/registry"
	redisstorage "github.com/taoyao-code/frigate-gateway/internal/storage/redis"
	"github.com/taoyao-code/frigate-gateway/internal/wsapi"
)

// App 组装完成、尚未启动的网关
type App struct {
	cfg      *cfgpkg.Config
	log      *zap.Logger
	Registry *registry.Registry
	Metrics  *metrics.AppMetrics
	Health   *health.Aggregator
	Ready    *health.Readiness
	WS       *wsapi.Server
	HTTP     *httpserver.Server

	redis  *redisstorage.Client
	syncer *registry.Syncer
}

// Build 按依赖顺序初始化各组件，不启动监听
func Build(cfg *cfgpkg.Config, log *zap.Logger) (*App, error) {
	// ========== 阶段1: 基础组件 ==========
	reg, appm := app.NewMetrics()
	metricsHandler := metrics.Handler(reg)
	ready := app.NewReady()

	// ========== 阶段2: 实例注册表（静态配置）==========
	factory := app.NewFrigateFactory(cfg.Frigate, appm, log)
	instances, err := app.NewRegistry(cfg.Frigate, factory, appm, log)
	if err != nil {
		log.Error("frigate registry initialization failed", zap.Error(err))
		return nil, err
	}
	healthAgg := app.NewHealthAggregator(instances)
	healthAgg.SetTimeout(cfg.Frigate.Timeout)

	// ========== 阶段3: Redis 共享实例目录（可选）==========
	a := &App{cfg: cfg, log: log, Registry: instances, Metrics: appm, Health: healthAgg, Ready: ready}
	redisClient, err := app.NewRedisClient(cfg.Redis, log)
	if err != nil {
		log.Error("redis initialization failed", zap.Error(err))
		return nil, err
	}
	if redisClient != nil {
		a.redis = redisClient
		a.syncer = app.NewRedisSyncer(instances, redisClient, factory, appm, log)
		app.AddRedisChecker(healthAgg, redisClient)
	}

	// ========== 阶段4: WebSocket 网关与 HTTP 路由 ==========
	gw := wsapi.NewGateway(instances, log, appm)
	a.WS = wsapi.NewServer(gw, cfg.WebSocket, log, appm)

	var mh http.Handler
	if cfg.Metrics.Enable {
		mh = metricsHandler
	}
	a.HTTP = app.NewHTTPServer(cfg.HTTP, cfg.Metrics.Path, mh, ready.Ready)
	a.HTTP.Register(func(r *gin.Engine) {
		authCfg := middleware.AuthConfig{
			APIKeys: cfg.API.Auth.APIKeys,
			Enabled: cfg.API.Auth.Enabled,
		}
		r.GET(cfg.WebSocket.Path, middleware.APIKeyAuth(authCfg, log), a.WS.Handle)
		app.RegisterHealthRoutes(r, healthAgg)
	})
	return a, nil
}

// syncRegistry 首次同步失败不阻止启动，静态实例照常服务
func (a *App) syncRegistry(ctx context.Context) {
	if a.syncer == nil {
		return
	}
	if n, err := a.syncer.Sync(ctx); err != nil {
		a.log.Warn("initial redis instance sync failed", zap.Error(err))
	} else {
		a.log.Info("redis instances synced", zap.Int("count", n))
	}
	go a.syncer.Run(ctx, a.cfg.Redis.SyncInterval)
}

// Shutdown 先关闭 WebSocket 连接，再停止 HTTP 服务
func (a *App) Shutdown(ctx context.Context) {
	if err := a.WS.Shutdown(ctx); err != nil {
		a.log.Warn("websocket shutdown incomplete", zap.Error(err))
	}
	a.log.Info("websocket connections closed")

	_ = a.HTTP.Shutdown(ctx)
	a.log.Info("http server stopped")

	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// Run 统一启动流程
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	log.Info("starting frigate gateway",
		zap.String("name", cfg.App.Name),
		zap.String("env", cfg.App.Env))

	a, err := Build(cfg, log)
	if err != nil {
		return err
	}
	a.Ready.SetRegistryReady(true)
	log.Info("frigate registry ready", zap.Int("instances", a.Registry.Len()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.syncRegistry(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.HTTP.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	a.Ready.SetHTTPReady(true)
	log.Info("http server started",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("websocket_path", cfg.WebSocket.Path))

	// ========== 等待关闭信号 ==========
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("received shutdown signal, gracefully shutting down...")
	case err = <-errCh:
		log.Error("http server error", zap.Error(err))
	}

	a.Ready.SetHTTPReady(false)
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	a.Shutdown(shutdownCtx)

	log.Info("shutdown complete")
	return err
}
