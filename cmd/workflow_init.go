package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rfp-intake/internal/diff"
	"github.com/sells-group/rfp-intake/internal/evidence"
	"github.com/sells-group/rfp-intake/internal/extraction"
	"github.com/sells-group/rfp-intake/internal/fetch"
	"github.com/sells-group/rfp-intake/internal/intake"
	"github.com/sells-group/rfp-intake/internal/lock"
	"github.com/sells-group/rfp-intake/internal/review"
	"github.com/sells-group/rfp-intake/internal/store"
	"github.com/sells-group/rfp-intake/pkg/extractor"
	"github.com/sells-group/rfp-intake/pkg/tracelink"
)

// workflowEnv holds the initialized store and workflow components the
// commands operate on.
type workflowEnv struct {
	Store      store.Store
	Intake     *intake.Intake
	Extraction *extraction.Manager
	Review     *review.Engine
	Diff       *diff.Engine
	Evidence   *evidence.Ledger
}

// Close waits for in-flight runs and releases the store.
func (we *workflowEnv) Close() {
	if we.Extraction != nil {
		_ = we.Extraction.Wait()
	}
	if we.Store != nil {
		_ = we.Store.Close()
	}
}

// initWorkflow sets up the store, the extraction client, and all workflow
// components sharing one per-RFP lock. Callers should defer env.Close().
func initWorkflow(ctx context.Context, mode string) (*workflowEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	prompts, err := loadPrompts()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	locks := lock.NewKeyedMutex()

	client := extractor.NewClient(cfg.Extractor.Key, cfg.Extractor.RequestsPerSec, prompts)
	mgr := extraction.NewManager(st, client, locks, extraction.Config{
		Model:         cfg.Extractor.Model,
		Temperature:   cfg.Extractor.Temperature,
		TopP:          cfg.Extractor.TopP,
		MaxTokens:     cfg.Extractor.MaxTokens,
		PromptVersion: cfg.Extractor.PromptVersion,
		SchemaVersion: cfg.Extractor.SchemaVersion,
		Workers:       cfg.Extractor.Workers,
		WebhookURL:    cfg.Webhook.URL,
	})

	fetchTimeout := time.Duration(cfg.Intake.FetchTimeoutSecs) * time.Second
	in := intake.New(st, locks, intake.Options{
		HTTP:     fetch.NewHTTPFetcher(fetch.HTTPOptions{Timeout: fetchTimeout, UserAgent: cfg.Intake.UserAgent}),
		FTP:      fetch.NewFTPFetcher(fetch.FTPOptions{Timeout: fetchTimeout}),
		Analyzer: mgr,
	})

	links := initTraceLinks()

	return &workflowEnv{
		Store:      st,
		Intake:     in,
		Extraction: mgr,
		Review:     review.NewEngine(st, locks),
		Diff:       diff.NewEngine(st, links),
		Evidence:   evidence.NewLedger(st, links),
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "rfp-intake.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func loadPrompts() (*extractor.PromptPack, error) {
	if cfg.Extractor.PromptPackPath == "" {
		return extractor.DefaultPromptPack(), nil
	}
	return extractor.LoadPromptPack(cfg.Extractor.PromptPackPath)
}

// initTraceLinks builds the Notion-backed trace-link source, or a no-op one
// when Notion is not configured.
func initTraceLinks() tracelink.Source {
	if cfg.Notion.Token == "" {
		zap.L().Debug("notion not configured, impact evidence disabled")
		return tracelink.None{}
	}
	return tracelink.NewNotionSource(cfg.Notion.Token, tracelink.DatabaseIDs{
		Epics:   cfg.Notion.EpicDB,
		Wbs:     cfg.Notion.WbsDB,
		Sprints: cfg.Notion.SprintDB,
		Tests:   cfg.Notion.TestDB,
	})
}
