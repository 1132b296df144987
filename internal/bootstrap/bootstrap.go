package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/avolkova/enterprise-search/internal/config"
	"github.com/avolkova/enterprise-search/internal/core/ports"
	"github.com/avolkova/enterprise-search/internal/core/usecase"
	ollamaembed "github.com/avolkova/enterprise-search/internal/infrastructure/embedding/ollama"
	"github.com/avolkova/enterprise-search/internal/infrastructure/index/opensearch"
	"github.com/avolkova/enterprise-search/internal/infrastructure/llm/ollama"
	"github.com/avolkova/enterprise-search/internal/infrastructure/queue/nats"
	"github.com/avolkova/enterprise-search/internal/infrastructure/resilience"
	"github.com/avolkova/enterprise-search/internal/infrastructure/telemetry/postgres"
)

type App struct {
	Config config.Config

	AskUC ports.AskService
	RecUC ports.RecommendationService
	Queue ports.ViewEventQueue
	Views ports.ViewStore

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	views := postgres.NewViewRepository(db)
	if err := views.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	natsConn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	queue := nats.NewViewQueue(natsConn, cfg.NATSViewsSubject, resilience.NewExecutor(resilience.DefaultPolicy()))

	index := opensearch.NewClient(cfg.OpenSearchURL, cfg.OpenSearchIndex, nil, resilience.NewExecutor(resilience.DefaultPolicy()))

	embedder, err := ollamaembed.NewEmbedder(cfg.OllamaURL, cfg.OllamaEmbedModel, nil, resilience.NewExecutor(resilience.DefaultPolicy()), int64(cfg.EmbedCacheSize))
	if err != nil {
		natsConn.Close()
		db.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	generator := ollama.NewClient(cfg.OllamaURL, cfg.OllamaGenModel, nil, resilience.NewExecutor(resilience.DefaultPolicy()))

	fuser := usecase.NewRetrievalFuser(index, usecase.FusionConfig{
		RRFK:                cfg.RRFK,
		CandidateMultiplier: cfg.CandidateMultiplier,
		CountryBoost:        cfg.CountryBoost,
		DepartmentBoost:     cfg.DepartmentBoost,
	})

	askUC := usecase.NewAskUseCase(embedder, fuser, generator, usecase.AskConfig{
		DefaultNumChunks:  cfg.DefaultNumChunks,
		MaxNumChunks:      cfg.MaxNumChunks,
		MaxContextChars:   cfg.MaxContextChars,
		AnswerMaxTokens:   cfg.AnswerMaxTokens,
		RetrievalTimeout:  time.Duration(cfg.RetrievalTimeoutMs) * time.Millisecond,
		GenerationTimeout: time.Duration(cfg.GenerationTimeoutMs) * time.Millisecond,
	})

	recUC := usecase.NewRecommendationEngine(index, views, usecase.RecommendationConfig{
		CountryBoost:     cfg.CountryBoost,
		DepartmentBoost:  cfg.DepartmentBoost,
		MinTrendingViews: cfg.TrendingMinViews,
	})

	return &App{
		Config: cfg,

		AskUC: askUC,
		RecUC: recUC,
		Queue: queue,
		Views: views,

		closeFn: func() {
			natsConn.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
