package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/vitos/futures_trading_bot/internal/domain"
	"github.com/vitos/futures_trading_bot/internal/infrastructure/exchange"
	"github.com/vitos/futures_trading_bot/internal/infrastructure/logger"
	"github.com/vitos/futures_trading_bot/internal/infrastructure/storage"
	"github.com/vitos/futures_trading_bot/internal/usecase"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchanges []struct {
		Name      string `yaml:"name"`
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
		Testnet   bool   `yaml:"testnet"`
	} `yaml:"exchanges"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envOr prefers an environment value over the config file one, so API keys
// can live in .env instead of the yaml.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// .env is optional; environment wins over the yaml for credentials.
	_ = godotenv.Load()

	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Logging.File != "" {
		fileLog, err := logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
		if err != nil {
			log.Warn("Failed to init file logger, using console only", zap.Error(err))
		} else {
			log = fileLog
		}
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = "workspace.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	connectors := make(map[string]domain.Connector)

	for _, ex := range cfg.Exchanges {
		keyVar := "BINANCE_API_KEY"
		secretVar := "BINANCE_API_SECRET"
		if ex.Name == "bitmex" {
			keyVar = "BITMEX_API_KEY"
			secretVar = "BITMEX_API_SECRET"
		}
		apiKey := envOr(keyVar, ex.APIKey)
		apiSecret := envOr(secretVar, ex.APISecret)

		switch ex.Name {
		case "binance":
			baseURL, wsURL := exchange.BinanceURLs(ex.Testnet)
			adapter := exchange.NewBinanceAdapter(apiKey, apiSecret, baseURL, wsURL, log)
			if _, err := adapter.GetContracts(ctx); err != nil {
				log.Error("Failed to load binance contracts", zap.Error(err))
			}
			adapter.StartStream()
			connectors["binance"] = adapter
		case "bitmex":
			baseURL, wsURL := exchange.BitmexURLs(ex.Testnet)
			adapter := exchange.NewBitmexAdapter(apiKey, apiSecret, baseURL, wsURL, log)
			if _, err := adapter.GetContracts(ctx); err != nil {
				log.Error("Failed to load bitmex contracts", zap.Error(err))
			}
			adapter.StartStream()
			connectors["bitmex"] = adapter
		default:
			log.Fatal("Unsupported exchange in config", zap.String("name", ex.Name))
		}
	}

	if len(connectors) == 0 {
		log.Fatal("No exchanges configured")
	}

	workspace := usecase.NewWorkspace(store, connectors, log)
	if err := workspace.Load(ctx); err != nil {
		log.Error("Failed to restore workspace", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	if err := workspace.Save(ctx); err != nil {
		log.Error("Failed to save workspace", zap.Error(err))
	}
	for _, s := range workspace.Strategies() {
		if s.Active() {
			s.Deactivate()
		}
	}
	for _, c := range connectors {
		c.Disconnect()
	}
}
