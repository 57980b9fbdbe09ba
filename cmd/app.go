package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/network-scout/internal/archive"
	"github.com/spigell/network-scout/internal/batch"
	"github.com/spigell/network-scout/internal/conversation"
	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/extract"
	"github.com/spigell/network-scout/internal/github"
	"github.com/spigell/network-scout/internal/llm"
	"github.com/spigell/network-scout/internal/llm/gemini"
	"github.com/spigell/network-scout/internal/logger"
	"github.com/spigell/network-scout/internal/matching"
	"github.com/spigell/network-scout/internal/metrics"
	"github.com/spigell/network-scout/internal/notify"
	"github.com/spigell/network-scout/internal/platform"
	"github.com/spigell/network-scout/internal/prompts"
	"github.com/spigell/network-scout/internal/referral"
	"github.com/spigell/network-scout/internal/secrets"
	"github.com/spigell/network-scout/internal/store"
	"github.com/spigell/network-scout/internal/telegram"
	"github.com/spigell/network-scout/internal/twitter"
)

const driverMemory = "memory"

// bootstrap builds the logger and reads the config, exiting on failure like every command does.
func bootstrap() (*Config, *zap.Logger) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		logger.Fatal("config is required")
	}

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(*config), "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	return config, logger
}

func redacted(c Config) Config {
	hide := func(s *string) {
		if *s != "" {
			*s = "***"
		}
	}
	hide(&c.LLM.Gemini.APIKey)
	hide(&c.Telegram.Token)
	hide(&c.X.Token)
	hide(&c.Github.Token)
	hide(&c.Mail.Password)
	return c
}

// storage is the pair of backends every command works against.
type storage struct {
	store   store.Store
	backend archive.Backend
}

func openStorage(ctx context.Context, cfg StorageConfig, logger *zap.Logger) (*storage, error) {
	if strings.EqualFold(cfg.Driver, driverMemory) {
		logger.Warn("using in-memory storage, nothing survives a restart")
		return &storage{store: store.NewMemory(), backend: archive.NewMemory()}, nil
	}

	db, err := store.NewMongo(ctx, cfg.Mongo, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	backend, err := archive.NewRedis(ctx, cfg.Redis, logger.Named("archive"))
	if err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("open chat archive: %w", err)
	}
	return &storage{store: db, backend: backend}, nil
}

func (s *storage) Close(ctx context.Context, logger *zap.Logger) {
	if err := s.backend.Close(); err != nil {
		logger.Warn("closing chat archive", zap.Error(err))
	}
	if err := s.store.Close(ctx); err != nil {
		logger.Warn("closing profile store", zap.Error(err))
	}
}

func loadPrompts(path string) (*prompts.Set, error) {
	if strings.TrimSpace(path) == "" {
		return prompts.Default()
	}
	return prompts.Load(path)
}

func newGateway(ctx context.Context, cfg *Config, base *zap.Logger) (*llm.Gateway, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.LLM.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}

	set, err := loadPrompts(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.LLM.Gemini.APIKey,
		File:  cfg.LLM.Gemini.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set llm.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	genLogger := logger.WithCommonFields(logger.Named(base, "llm"), "gemini", cfg.LLM.Gemini.Model)
	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.LLM.Gemini.Model, cfg.LLM.Gemini.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	genLogger.Info("prompts loaded", zap.String("version", set.Version))
	return llm.NewGateway(generator, set, genLogger,
		llm.WithMaxLogLength(cfg.LLM.MaxLogLength),
		llm.WithObserver(metrics.Recorder{}),
	), nil
}

// senders holds the platform adapters that are configured for this process.
type senders struct {
	router   platform.Router
	telegram *telegram.Bot
	x        *twitter.Client
}

func newSenders(cfg *Config, backend archive.Backend, logger *zap.Logger) (*senders, error) {
	token, err := secrets.Load(secrets.Source{
		Name:  "telegram bot token",
		Value: cfg.Telegram.Token,
		File:  cfg.Telegram.TokenFile,
		Env:   "TELEGRAM_BOT_TOKEN",
	})
	if err != nil {
		return nil, err
	}

	bot, err := telegram.New(token, cfg.Telegram, backend, nil, logger.Named("telegram"))
	if err != nil {
		return nil, err
	}
	s := &senders{
		router:   platform.Router{domain.PlatformTelegram: bot},
		telegram: bot,
	}

	if !cfg.X.Enabled {
		return s, nil
	}
	xToken, err := secrets.Load(secrets.Source{
		Name:  "x bearer token",
		Value: cfg.X.Token,
		File:  cfg.X.TokenFile,
		Env:   "X_BEARER_TOKEN",
	})
	if err != nil {
		return nil, err
	}
	s.x = twitter.New(xToken, cfg.X, backend, logger.Named("x"))
	s.router[domain.PlatformX] = s.x
	return s, nil
}

func newGithub(cfg github.Config, logger *zap.Logger) (*github.Client, error) {
	token, err := secrets.Optional(secrets.Source{
		Name:  "github token",
		Value: cfg.Token,
		File:  cfg.TokenFile,
		Env:   "GITHUB_TOKEN",
	})
	if err != nil {
		return nil, err
	}
	if token == "" {
		logger.Warn("github token is not configured, anonymous requests are heavily rate limited")
	}
	return github.New(token, cfg, logger.Named("github")), nil
}

// components is the fully wired bot.
type components struct {
	engine *conversation.Engine
	runner *batch.Runner
	gate   *referral.Gate
}

func newComponents(ctx context.Context, cfg *Config, st *storage, gw *llm.Gateway, out *senders, logger *zap.Logger) (*components, error) {
	gate := referral.New(st.store, cfg.Referral, logger.Named("referral"))
	if err := gate.EnsurePermanentCode(ctx); err != nil {
		return nil, err
	}

	var matchOpts []matching.Option
	matchOpts = append(matchOpts, matching.WithHistoryLimit(cfg.Conversation.HistoryLimit))
	if cfg.Mail.Enabled {
		matchOpts = append(matchOpts, matching.WithNotifier(notify.NewMailer(cfg.Mail, logger.Named("mail"))))
	}
	matcher := matching.New(gw, st.store, logger.Named("matching"), matchOpts...)

	extractor := extract.New(cfg.Extract.MinConfidence, logger.Named("extract"))

	engine := conversation.New(conversation.Deps{
		Store:     st.store,
		Archive:   st.backend,
		Dedup:     st.backend,
		Gateway:   gw,
		Gate:      gate,
		Matcher:   matcher,
		Extractor: extractor,
		Sender:    out.router,
		Observer:  metrics.Recorder{},
		Logger:    logger.Named("conversation"),
	}, cfg.Conversation)

	repos, err := newGithub(cfg.Github, logger)
	if err != nil {
		return nil, err
	}
	deps := batch.Deps{
		Store:        st.store,
		Archive:      st.backend,
		Gateway:      gw,
		Extractor:    extractor,
		Sender:       out.router,
		Repositories: repos,
		Codes:        gate,
		Observer:     metrics.Recorder{},
		Logger:       logger.Named("batch"),
	}
	// A nil *twitter.Client must not become a non-nil interface.
	if out.x != nil {
		deps.Profiles = out.x
	}

	return &components{
		engine: engine,
		runner: batch.New(deps, cfg.Batch),
		gate:   gate,
	}, nil
}
