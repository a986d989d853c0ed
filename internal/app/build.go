package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ent0n29/promptqueue/internal/aggregator"
	"github.com/ent0n29/promptqueue/internal/config"
	"github.com/ent0n29/promptqueue/internal/httpapi"
	"github.com/ent0n29/promptqueue/internal/inference"
	"github.com/ent0n29/promptqueue/internal/notify"
	"github.com/ent0n29/promptqueue/internal/observability"
	"github.com/ent0n29/promptqueue/internal/queue"
	"github.com/ent0n29/promptqueue/internal/transcript"
)

const surfaceJanitorInterval = time.Minute

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Queue       *queue.Queue
	Scheduler   *queue.Scheduler
	Hub         *notify.Hub
	Aggregator  *aggregator.Aggregator
	Transcripts transcript.Store
	Metrics     *observability.Metrics
	Backend     string

	// Cleanup should be called on shutdown to release external resources (DB, badger files).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	splitMode, err := aggregator.ParseSplitMode(cfg.SplitMode)
	if err != nil {
		return nil, err
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	client, err := inference.NewClient(inference.Config{
		Mode:           cfg.InferenceMode,
		URL:            cfg.InferenceURL,
		OpenAIBaseURL:  cfg.OpenAIBaseURL,
		APIKey:         cfg.InferenceAPIKey,
		Model:          cfg.InferenceModel,
		PromptPrefix:   cfg.PromptPrefix,
		ConnectRetries: cfg.InferenceRetries,
		ReasoningOpen:  cfg.ReasoningOpen,
		ReasoningClose: cfg.ReasoningClose,
	})
	if err != nil {
		return nil, fmt.Errorf("inference client init failed: %w", err)
	}

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL, cfg.TranscriptDir)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	q := queue.New()
	hub := notify.NewHub()
	agg := aggregator.New(q, client, hub, store, metrics, aggregator.Config{
		PageSize:      cfg.PageSize,
		SplitMode:     splitMode,
		FlushInterval: cfg.FlushInterval,
		FinalGrace:    cfg.FinalGrace,
	})
	scheduler := queue.NewScheduler(q, agg, hub, queue.SchedulerConfig{
		ConcurrencyLimit: cfg.ConcurrencyLimit,
		TickInterval:     cfg.TickInterval,
	}, metrics)

	api := httpapi.New(cfg, q, scheduler, hub, store, metrics)

	cleanup := func() error {
		var errs []string
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	log.Printf("inference backend: %s (model %s)", client.Name(), cfg.InferenceModel)

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Queue:       q,
		Scheduler:   scheduler,
		Hub:         hub,
		Aggregator:  agg,
		Transcripts: store,
		Metrics:     metrics,
		Backend:     client.Name(),
		Cleanup:     cleanup,
	}, nil
}

// Start enables the scheduler and the surface janitor for the lifetime of ctx.
func (b *BuildResult) Start(ctx context.Context) {
	b.Scheduler.Start(ctx)
	b.Hub.StartJanitor(ctx, surfaceJanitorInterval, b.Config.SurfaceRetention)
}
