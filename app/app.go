// Package app wires configuration into the stores, backends and services
// shared by the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"trustlens-backend/config"
	"trustlens-backend/metrics"
	"trustlens-backend/models"
	"trustlens-backend/repository"
	"trustlens-backend/rulebook"
	"trustlens-backend/service"
	"trustlens-backend/storage"
	"trustlens-backend/vectorindex"
	"trustlens-backend/verifier"

	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/api/option"
)

// App holds the wired services
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Documents *service.DocumentService
	Rules     *service.RuleService
	Reviews   *service.ReviewService
	Explain   *service.ExplainService

	db     *pgxpool.Pool
	gemini *genai.Client
}

type stores struct {
	documents repository.DocumentStore
	chunks    repository.ChunkStore
	rules     repository.RuleStore
	reviews   repository.ReviewStore
	sessions  repository.SessionStore
	index     vectorindex.Index
}

// New connects the configured backends and builds every service
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}

	fileStorage, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Printf("Storage initialized (%s)", cfg.Storage.Type)

	if cfg.NeedsGemini() {
		if a.gemini, err = initGemini(ctx, cfg.GeminiAPIKey); err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini: %w", err)
		}
	}

	embedder := a.embedder()

	var st stores
	switch cfg.Store {
	case config.StoreMemory:
		st = stores{
			documents: repository.NewMemoryDocumentStore(),
			chunks:    repository.NewMemoryChunkStore(),
			rules:     repository.NewMemoryRuleStore(),
			reviews:   repository.NewMemoryReviewStore(),
			sessions:  repository.NewMemorySessionStore(),
			index:     vectorindex.NewMemoryIndex(embedder.Dimensions()),
		}
		log.Println("Using in-memory stores")
	default:
		if a.db, err = initPostgres(ctx, cfg.DatabaseURL); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		chunks := repository.NewChunkRepository(a.db, embedder.Dimensions())
		st = stores{
			documents: repository.NewDocumentRepository(a.db),
			chunks:    chunks,
			rules:     repository.NewRuleRepository(a.db),
			reviews:   repository.NewReviewRepository(a.db),
			sessions:  repository.NewSessionRepository(a.db),
			index:     chunks,
		}
	}

	locks := service.NewDocumentLocks()
	a.Documents = service.NewDocumentService(
		service.DocumentWithStores(st.documents, st.chunks, st.reviews),
		service.DocumentWithStorage(fileStorage),
		service.DocumentWithVectorIndex(embedder, st.index),
		service.DocumentWithEmbedBatchSize(cfg.EmbedBatchSize),
		service.DocumentWithMaxUploadBytes(cfg.MaxUploadBytes),
		service.DocumentWithLocks(locks),
		service.DocumentWithObserver(a.Metrics),
		service.DocumentWithLogger(logger),
	)
	a.Rules = service.NewRuleService(
		service.RuleWithStore(st.rules),
		service.RuleWithLogger(logger),
	)
	a.Reviews = service.NewReviewService(
		service.ReviewWithStores(st.documents, st.chunks, st.reviews),
		service.ReviewWithRules(a.Rules),
		service.ReviewWithVectorIndex(embedder, st.index),
		service.ReviewWithVerifier(verifier.New(a.verificationBackend(),
			verifier.WithLogger(logger),
			verifier.WithObserver(a.Metrics),
		)),
		service.ReviewWithConcurrency(cfg.ReviewConcurrency),
		service.ReviewWithTopK(cfg.ReviewTopK),
		service.ReviewWithRetry(cfg.VerifyMaxAttempts, time.Second),
		service.ReviewWithMergedRetrieval(cfg.ReviewMergeRetrieval),
		service.ReviewWithLocks(locks),
		service.ReviewWithObserver(a.Metrics),
		service.ReviewWithLogger(logger),
	)

	explainOpts := []service.ExplainServiceOption{
		service.ExplainWithStores(st.reviews, st.sessions),
		service.ExplainWithLogger(logger),
	}
	if cfg.ExplainBackend == config.ExplainGemini {
		explainOpts = append(explainOpts, service.ExplainWithBackend(service.NewGeminiExplainer(a.gemini, cfg.GeminiModel)))
	}
	a.Explain = service.NewExplainService(explainOpts...)

	return a, nil
}

func (a *App) embedder() vectorindex.Embedder {
	if a.Config.Embedder == config.EmbedderGemini {
		return vectorindex.NewGeminiEmbedder(a.gemini, a.Config.GeminiEmbeddingModel, a.Logger)
	}
	return vectorindex.NewHashEmbedder(a.Config.EmbedDimensions)
}

func (a *App) verificationBackend() verifier.Backend {
	if a.Config.VerifierBackend == config.VerifierGemini {
		return verifier.NewGeminiBackend(a.gemini,
			verifier.WithGeminiModel(a.Config.GeminiModel),
			verifier.WithGeminiLogger(a.Logger),
		)
	}
	return verifier.NewRuleEngine()
}

// SeedRules loads RULES_FILE, or the built-in catalog when it is unset, into
// the rule store. Unchanged rules keep their version.
func (a *App) SeedRules(ctx context.Context) (*service.ImportResult, error) {
	var (
		rules []models.Rule
		err   error
	)
	if a.Config.RulesFile != "" {
		rules, err = rulebook.LoadFile(a.Config.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", a.Config.RulesFile, err)
		}
	} else {
		rules = rulebook.Default()
	}
	return a.Rules.Seed(ctx, rules)
}

// Shutdown stops running reviews and waits for background work
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Reviews != nil {
		errs = append(errs, a.Reviews.Shutdown(ctx))
	}
	if a.Documents != nil {
		done := make(chan struct{})
		go func() {
			a.Documents.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("ingestion still running: %w", ctx.Err()))
		}
	}
	a.Close()
	return errors.Join(errs...)
}

// Close releases database and Gemini connections
func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
	if a.gemini != nil {
		if err := a.gemini.Close(); err != nil {
			a.Logger.Warn("failed to close Gemini client", "error", err)
		}
		a.gemini = nil
	}
}

func initPostgres(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Enable pgvector extension
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("Warning: Failed to create pgvector extension: %v", err)
		log.Println("This may be normal if extension is already installed or requires superuser privileges")
	}

	log.Println("Postgres connection established with pgvector support")
	return pool, nil
}

func initGemini(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	log.Println("Gemini client initialized")
	return client, nil
}
