package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/xaenox/legalsathi/internal/bot"
	"github.com/xaenox/legalsathi/internal/chat"
	"github.com/xaenox/legalsathi/internal/classifier"
	"github.com/xaenox/legalsathi/internal/llm"
	"github.com/xaenox/legalsathi/internal/metrics"
	"github.com/xaenox/legalsathi/internal/pdf"
	"github.com/xaenox/legalsathi/internal/server"
	"github.com/xaenox/legalsathi/internal/storage"
	"github.com/xaenox/legalsathi/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		zap.NewExample().Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	// Initialize logger
	logger, err := newLogger(cfg.Log)
	if err != nil {
		zap.NewExample().Fatal("Failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	store, err := storage.New(connectCtx, storage.DatabaseConfig{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MongoURI: cfg.Database.MongoURI,
		MongoDB:  cfg.Database.MongoDB,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	// Language model, or an offline mock when no key is configured
	var provider llm.Provider
	if cfg.LLM.APIKey == "" {
		logger.Warn("No LLM API key configured, using mock provider")
		provider = llm.MockProvider{}
	} else {
		provider, err = llm.NewOpenAIProvider(llm.Options{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize LLM provider", zap.Error(err))
		}
	}
	logger.Info("LLM provider ready", zap.String("model", provider.Model()))

	pdfs, err := pdf.NewStore(cfg.PDF.Dir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize PDF store", zap.Error(err), zap.String("dir", cfg.PDF.Dir))
	}

	m := metrics.New()
	svc := chat.NewService(
		store,
		provider,
		classifier.NewKeywordClassifier(cfg.Classifier.DefaultJurisdiction),
		pdfs,
		m,
		chat.Config{
			HistoryTurns:   cfg.LLM.HistoryTurns,
			MaxUploadChars: cfg.Upload.MaxChars,
		},
		logger,
	)

	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		CORSOrigin:     cfg.Server.CORSOrigin,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}, svc, pdfs, m, logger)

	var wg sync.WaitGroup
	if cfg.Telegram.Enabled {
		b, err := bot.New(cfg.Telegram.Token, svc, pdfs, logger)
		if err != nil {
			logger.Fatal("Failed to create bot", zap.Error(err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Bot error", zap.Error(err))
			}
		}()
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("HTTP server error", zap.Error(err))
		stop()
	}
	wg.Wait()
	logger.Info("LegalSathi stopped")
}
