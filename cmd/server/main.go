package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"rewardclaims/internal/attempts"
	"rewardclaims/internal/claims"
	"rewardclaims/internal/config"
	"rewardclaims/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := cfg.Log.New()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	var store attempts.Store
	if cfg.Attempts.PostgresDSN != "" {
		pg, err := attempts.NewPostgresStore(context.Background(), cfg.Attempts.PostgresDSN)
		if err != nil {
			logger.Fatal("attempt store error", zap.Error(err))
		}
		defer pg.Close()
		store = pg
	} else {
		fs, err := attempts.NewFileStore(cfg.Attempts.StorePath)
		if err != nil {
			logger.Fatal("attempt store error", zap.Error(err))
		}
		store = fs
	}

	var client claims.Client = claims.FakeClient{}
	if cfg.Claims.APIBaseURL != "" {
		httpClient, err := claims.NewHTTPClient(claims.HTTPClientConfig{
			BaseURL: cfg.Claims.APIBaseURL,
			Chain:   cfg.Wallet.Chain,
			Timeout: cfg.Claims.SubmitTimeout,
		})
		if err != nil {
			logger.Fatal("claims client error", zap.Error(err))
		}
		client = httpClient
	} else {
		logger.Warn("CLAIMS_API_URL not set, claims are accepted by the in-process fake backend")
	}
	if cfg.Wallet.RelaySecret == "" {
		logger.Warn("WALLET_RELAY_SECRET not set, wallet relay requests are not verified")
	}

	apiServer := server.NewServer(cfg, attempts.NewRecordingClient(client, store, logger), store, logger)

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}
