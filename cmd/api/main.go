// Package main implements the LAI engine API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/acessolabs/lai-engine/engine/answer"
	"github.com/acessolabs/lai-engine/engine/corpus"
	"github.com/acessolabs/lai-engine/engine/links"
	"github.com/acessolabs/lai-engine/engine/retrieval"
	"github.com/acessolabs/lai-engine/engine/semantic"
	"github.com/acessolabs/lai-engine/engine/session"
	"github.com/acessolabs/lai-engine/engine/xref"
	"github.com/acessolabs/lai-engine/pkg/embedding"
	"github.com/acessolabs/lai-engine/pkg/generate"
	"github.com/acessolabs/lai-engine/pkg/metrics"
	"github.com/acessolabs/lai-engine/pkg/mid"
)

// Config holds all environment-based configuration.
type Config struct {
	Port               string
	QdrantURL          string
	RequestsCollection string
	AppealsCollection  string
	EmbedURL           string
	EmbedModel         string
	GenerateURL        string
	GenerateModel      string
	Neo4jURL           string
	Neo4jUser          string
	Neo4jPass          string
	NATSURL            string
	CORSOrigin         string
	SessionMaxTurns    int
}

func loadConfig() Config {
	return Config{
		Port:               envOr("PORT", "8080"),
		QdrantURL:          envOr("QDRANT_URL", "localhost:6334"),
		RequestsCollection: envOr("REQUESTS_COLLECTION", "lai_requests"),
		AppealsCollection:  envOr("APPEALS_COLLECTION", "lai_appeals"),
		EmbedURL:           envOr("EMBED_URL", "http://localhost:11434"),
		EmbedModel:         envOr("EMBED_MODEL", "nomic-embed-text"),
		GenerateURL:        envOr("GENERATE_URL", "http://localhost:11434"),
		GenerateModel:      envOr("GENERATE_MODEL", "llama3"),
		Neo4jURL:           os.Getenv("NEO4J_URL"), // empty disables the link graph
		Neo4jUser:          envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:          envOr("NEO4J_PASS", "password"),
		NATSURL:            os.Getenv("NATS_URL"), // empty disables audit events
		CORSOrigin:         envOr("CORS_ORIGIN", "*"),
		SessionMaxTurns:    session.DefaultMaxTurns,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(loadConfig(), logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Vector stores, one per corpus ---
	requestStore, err := semantic.New(cfg.QdrantURL, cfg.RequestsCollection)
	if err != nil {
		return fmt.Errorf("qdrant requests: %w", err)
	}
	defer requestStore.Close()

	appealStore, err := semantic.New(cfg.QdrantURL, cfg.AppealsCollection)
	if err != nil {
		return fmt.Errorf("qdrant appeals: %w", err)
	}
	defer appealStore.Close()

	requests := corpus.NewRequestIndex(requestStore)
	appeals := corpus.NewAppealIndex(appealStore)

	// --- External collaborators ---
	embedder := embedding.New(cfg.EmbedURL, cfg.EmbedModel, embedding.Opts{})
	generator := generate.New(cfg.GenerateURL, cfg.GenerateModel, generate.Opts{})

	// --- Optional link graph ---
	var graph xref.LinkGraph
	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(ctx)
		graph = links.New(driver)
		logger.Info("link graph enabled", "url", cfg.Neo4jURL)
	}

	// --- Optional audit events ---
	var audit *auditPublisher
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("lai-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		audit = &auditPublisher{nc: nc, log: logger}
		logger.Info("audit events enabled", "url", cfg.NATSURL)
	}

	// --- Engine ---
	reg := metrics.New()
	retriever := retrieval.New(embedder, requests, appeals, logger)
	joiner := xref.New(embedder, requests, appeals, graph, xref.DefaultOptions(), logger)
	sessions := session.NewStore(cfg.SessionMaxTurns)
	svc := answer.New(retriever, joiner, generator, sessions, answer.DefaultOptions(), reg, logger)

	// Idle sessions are swept in the background for the process lifetime.
	go sweepSessions(ctx, sessions, logger)

	// --- HTTP server ---
	api := &server{svc: svc, instances: appeals, audit: audit, log: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/query", api.handleQuery)
	mux.HandleFunc("POST /api/predict", api.handlePredict)
	mux.HandleFunc("POST /api/draft", api.handleDraft)
	mux.HandleFunc("GET /api/requests/{protocol}", api.handleRequestLookup)
	mux.HandleFunc("GET /api/appeals/{id}", api.handleAppealLookup)
	mux.HandleFunc("GET /api/instances", api.handleInstances)
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.OTel("lai-api"),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func sweepSessions(ctx context.Context, sessions *session.Store, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(time.Hour); n > 0 {
				logger.Info("idle sessions evicted", "count", n)
			}
		}
	}
}
