package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/openliq/aggregator/internal/config"
	"github.com/openliq/aggregator/internal/logger"
	"github.com/openliq/aggregator/internal/service"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Development = cfg.DebugLogging
	if cfg.LogFile != "" {
		logCfg.LogFile = cfg.LogFile
	}
	appLogger, err := logger.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() {
		_ = appLogger.Sync()
	}()

	appLogger.Info("Starting aggregation engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := service.NewRunner(cfg, appLogger)
	if err := runner.Initialize(ctx); err != nil {
		appLogger.Fatal("Failed to initialize engine", zap.Error(err))
	}
	if err := runner.Run(ctx); err != nil {
		appLogger.Fatal("Engine execution error", zap.Error(err))
	}
}
