package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"escrowchain/config"
	"escrowchain/gateway"
	"escrowchain/gateway/auth"
	gwmiddleware "escrowchain/gateway/middleware"
	"escrowchain/gateway/routes"
	"escrowchain/observability/logging"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("escrow-gateway", cfg.Env)

	nodeURL := cfg.RPCAddress
	if strings.HasPrefix(nodeURL, ":") {
		nodeURL = "http://127.0.0.1" + nodeURL
	} else if !strings.HasPrefix(nodeURL, "http") {
		nodeURL = "http://" + nodeURL
	}
	node := gateway.NewRPCNodeClient(nodeURL, cfg.RPCAuthToken)

	var authMiddleware func(http.Handler) http.Handler
	secrets := parseSecrets(cfg.GatewaySecret)
	if len(secrets) > 0 {
		store, err := auth.NewBoltNonceStore(cfg.NonceStorePath)
		if err != nil {
			logger.Error("failed to open nonce store", slog.Any("error", err))
			os.Exit(1)
		}
		defer store.Close()
		authenticator := auth.NewAuthenticator(secrets, 0, 0, nil, store)
		authMiddleware = gwmiddleware.Auth(authenticator)
	} else {
		logger.Warn("gateway running without request authentication")
	}

	limiter := gwmiddleware.NewRateLimiter(map[string]gwmiddleware.RateLimit{
		"escrow": {RequestsPerMinute: 120, Burst: 20},
		"events": {RequestsPerMinute: 240, Burst: 40},
	})
	obs := gwmiddleware.NewObservability(gwmiddleware.ObservabilityConfig{
		ServiceName: "escrow-gateway",
		LogRequests: cfg.Env != "production",
	}, logger)

	handler := routes.New(routes.Config{
		Node:          node,
		Authenticator: authMiddleware,
		RateLimiter:   limiter,
		Observability: obs,
	})

	server := &http.Server{
		Addr:              cfg.GatewayAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("gateway listening", slog.String("address", cfg.GatewayAddress))
	if err := server.ListenAndServe(); err != nil {
		logger.Error("gateway stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// parseSecrets splits "key:secret,key2:secret2" into an API key map.
func parseSecrets(raw string) map[string]string {
	secrets := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		secret := strings.TrimSpace(parts[1])
		if key != "" && secret != "" {
			secrets[key] = secret
		}
	}
	return secrets
}
