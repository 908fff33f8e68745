package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/echotools/vrcompanion/server"
)

var (
	flagConfig    = flag.String("config", "vrcompanion.yml", "Path to the YAML config file")
	flagAPIBase   = flag.String("api", "https://api.vrchat.cloud/api/1", "Directory API base URL")
	flagUserAgent = flag.String("useragent", "vrcompanion/1.0", "User agent for directory calls")
)

func main() {
	flag.Parse()

	config, err := server.LoadConfig(*flagConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := server.NewLogger(config)
	defer logger.Sync()

	store, err := server.NewFeedStore(logger, config.DatabaseURI)
	if err != nil {
		logger.Fatal("Feed store unavailable", zap.Error(err))
	}
	defer store.Close()

	caller := server.NewHTTPCaller(*flagAPIBase, os.Getenv("VRC_AUTH_COOKIE"), *flagUserAgent)
	engine := server.NewEngine(logger, config, caller, store, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Engine starting",
		zap.String("bridge", config.BridgeAddr),
		zap.String("session_log", config.SessionLog))
	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("Engine stopped", zap.Error(err))
	}
	logger.Info("Engine stopped")
}
