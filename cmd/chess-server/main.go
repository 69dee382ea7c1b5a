package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/park285/Cheese-arena/internal/chessbuilder"
	appcfg "github.com/park285/Cheese-arena/internal/config"
	"github.com/park285/Cheese-arena/internal/obslog"
)

func main() {
	var (
		envFile    = pflag.String("env-file", ".env", "dotenv file loaded before the environment is read")
		configFile = pflag.String("config", "", "YAML config file (overrides CHESS_CONFIG_FILE)")
		addr       = pflag.String("addr", "", "listen address (overrides CHESS_LISTEN_ADDR)")
		backend    = pflag.String("store", "", "store backend: memory, redis or postgres")
	)
	pflag.Parse()

	if err := appcfg.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("env error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	path := *configFile
	if path == "" {
		path = os.Getenv("CHESS_CONFIG_FILE")
	}
	cfg, err := appcfg.LoadFile(path)
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *backend != "" {
		cfg.StoreBackend = *backend
		if err := cfg.Validate(); err != nil {
			logger.Fatal("config_error", zap.Error(err))
		}
	}

	deps, err := chessbuilder.New(cfg, logger)
	if err != nil {
		logger.Fatal("init_error", zap.Error(err))
	}
	if err := deps.Start(); err != nil {
		logger.Fatal("sweep_start_error", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- deps.Server.ListenAndServe() }()
	logger.Info("server_start",
		zap.String("addr", cfg.ListenAddr),
		zap.String("path", cfg.WSPath),
		zap.String("store", cfg.StoreBackend),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("server_stop", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server_error", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := deps.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		os.Exit(1)
	}
}
