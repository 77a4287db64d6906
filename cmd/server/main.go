package main

import (
	"flag"

	"go.uber.org/zap"

	"github.com/taoyao-code/frigate-gateway/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/frigate-gateway/internal/config"
	"github.com/taoyao-code/frigate-gateway/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (overrides FGW_CONFIG)")
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 组装并运行
	if err := bootstrap.Run(cfg, zap.L()); err != nil {
		zap.L().Fatal("frigate gateway exited", zap.Error(err))
	}
}
