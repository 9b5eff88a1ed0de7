package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"rewardclaims/internal/claims"
	"rewardclaims/internal/logger"
	"rewardclaims/internal/wallet"
)

// Settings models the optional settings.json shipped with a deployment.
type Settings struct {
	Token struct {
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"token"`
	Wallet struct {
		Chain                 string `json:"chain"`
		ConnectTimeoutSeconds int    `json:"connectTimeoutSeconds"`
	} `json:"wallet"`
	Claims struct {
		APIBaseURL      string `json:"apiBaseUrl"`
		SubmitTimeoutMs int    `json:"submitTimeoutMs"`
	} `json:"claims"`
}

// AppConfig ties together the settings file, environment and derived values.
type AppConfig struct {
	Service  ServiceConfig
	Auth     AuthConfig
	Wallet   WalletConfig
	Claims   ClaimsConfig
	Attempts AttemptsConfig
	Token    TokenConfig
	Log      logger.Config
}

type ServiceConfig struct {
	HTTPPort        int
	WorkflowTTL     time.Duration
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type WalletConfig struct {
	Chain          wallet.Chain
	RelaySecret    string
	RelayClockSkew time.Duration
	ConnectTimeout time.Duration
}

type ClaimsConfig struct {
	// APIBaseURL empty means the in-process fake backend is used.
	APIBaseURL    string
	SubmitTimeout time.Duration
}

type AttemptsConfig struct {
	StorePath   string
	PostgresDSN string
}

type TokenConfig struct {
	Symbol   string
	Decimals int32
}

const defaultSettingsPath = "settings.json"

// Load reads .env (if present), the settings file and the environment.
// Environment variables win over the settings file.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	settings, err := loadSettings(envOr("SETTINGS_PATH", defaultSettingsPath))
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	chain, err := wallet.ParseChain(envOr("WALLET_CHAIN", settings.Wallet.Chain))
	if err != nil {
		return nil, err
	}

	connectSecs := settings.Wallet.ConnectTimeoutSeconds
	if connectSecs <= 0 {
		connectSecs = 120
	}
	submitMs := settings.Claims.SubmitTimeoutMs
	if submitMs <= 0 {
		submitMs = 15000
	}
	symbol := settings.Token.Symbol
	if symbol == "" {
		symbol = "$OPEN"
	}
	decimals := settings.Token.Decimals
	if decimals <= 0 {
		decimals = claims.DefaultDecimals
	}

	cfg := &AppConfig{
		Service: ServiceConfig{
			HTTPPort:        envOrInt("API_HTTP_PORT", 3000),
			WorkflowTTL:     time.Duration(envOrInt("WORKFLOW_TTL_SECONDS", 900)) * time.Second,
			SweepInterval:   time.Duration(envOrInt("WORKFLOW_SWEEP_SECONDS", 30)) * time.Second,
			ShutdownTimeout: time.Duration(envOrInt("SHUTDOWN_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret: envOr("AUTH_JWT_SECRET", ""),
		},
		Wallet: WalletConfig{
			Chain:          chain,
			RelaySecret:    envOr("WALLET_RELAY_SECRET", ""),
			RelayClockSkew: time.Duration(envOrInt("WALLET_RELAY_CLOCK_SKEW_SECONDS", 60)) * time.Second,
			ConnectTimeout: time.Duration(envOrInt("WALLET_CONNECT_TIMEOUT_SECONDS", connectSecs)) * time.Second,
		},
		Claims: ClaimsConfig{
			APIBaseURL:    envOr("CLAIMS_API_URL", settings.Claims.APIBaseURL),
			SubmitTimeout: time.Duration(envOrInt("CLAIMS_SUBMIT_TIMEOUT_MS", submitMs)) * time.Millisecond,
		},
		Attempts: AttemptsConfig{
			StorePath:   envOr("ATTEMPTS_STORE_PATH", filepath.Join(os.TempDir(), "rewardclaims-attempts.json")),
			PostgresDSN: envOr("ATTEMPTS_POSTGRES_DSN", ""),
		},
		Token: TokenConfig{
			Symbol:   symbol,
			Decimals: int32(decimals),
		},
		Log: logger.ReadConfig(),
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("AUTH_JWT_SECRET is required")
	}
	return cfg, nil
}

// loadSettings tolerates a missing file; every field has a default.
func loadSettings(path string) (*Settings, error) {
	var s Settings
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
