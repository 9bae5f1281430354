package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"escrowchain/config"
	"escrowchain/gateway"
	"escrowchain/observability/logging"
	"escrowchain/services/auditd"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("auditd", cfg.Env)

	store, err := auditd.Open(cfg.AuditDatabase)
	if err != nil {
		logger.Error("failed to open audit store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	nodeURL := cfg.RPCAddress
	if strings.HasPrefix(nodeURL, ":") {
		nodeURL = "http://127.0.0.1" + nodeURL
	} else if !strings.HasPrefix(nodeURL, "http") {
		nodeURL = "http://" + nodeURL
	}
	client := gateway.NewRPCNodeClient(nodeURL, cfg.RPCAuthToken)

	interval := time.Duration(cfg.AuditPollSeconds) * time.Second
	watcher := auditd.NewWatcher(client, store, logger, interval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("audit watcher started",
		slog.String("database", cfg.AuditDatabase),
		slog.Duration("interval", interval))
	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("audit watcher stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
