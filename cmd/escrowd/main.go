package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"escrowchain/config"
	"escrowchain/core"
	"escrowchain/observability/logging"
	"escrowchain/rpc"
	"escrowchain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("escrowd", cfg.Env)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node := core.NewNode(db, logger)
	server := rpc.NewServer(node, cfg.RPCAuthToken)

	logger.Info("escrow ledger listening", slog.String("address", cfg.RPCAddress))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
