// Command ingest indexes a JSONL export of requests and appeals: it embeds
// each record's text, upserts the vectors into the two Qdrant collections,
// and records request-to-appeal links in Neo4j when configured.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/acessolabs/lai-engine/engine/corpus"
	"github.com/acessolabs/lai-engine/engine/domain"
	"github.com/acessolabs/lai-engine/engine/links"
	"github.com/acessolabs/lai-engine/engine/semantic"
	"github.com/acessolabs/lai-engine/pkg/embedding"
	"github.com/acessolabs/lai-engine/pkg/fn"
)

const vectorDims = 768 // nomic-embed-text

// line is one JSONL record; Type selects which payload field is set.
type line struct {
	Type    string          `json:"type"` // "request" or "appeal"
	Request *domain.Request `json:"request,omitempty"`
	Appeal  *domain.Appeal  `json:"appeal,omitempty"`
}

func main() {
	var (
		file       = flag.String("file", "", "JSONL export to index (required)")
		qdrantAddr = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		reqColl    = flag.String("requests", "lai_requests", "requests collection name")
		appColl    = flag.String("appeals", "lai_appeals", "appeals collection name")
		embedURL   = flag.String("embed", "http://localhost:11434", "embedding gateway base URL")
		embedModel = flag.String("model", "nomic-embed-text", "embedding model")
		neo4jURL   = flag.String("neo4j", "", "Neo4j bolt URL (empty disables link writes)")
		neo4jUser  = flag.String("neo4j-user", "neo4j", "Neo4j username")
		neo4jPass  = flag.String("neo4j-pass", "password", "Neo4j password")
		batchSize  = flag.Int("batch", 64, "records embedded and upserted per batch")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: ingest -file export.jsonl [flags]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, *file, config{
		qdrantAddr: *qdrantAddr,
		reqColl:    *reqColl,
		appColl:    *appColl,
		embedURL:   *embedURL,
		embedModel: *embedModel,
		neo4jURL:   *neo4jURL,
		neo4jUser:  *neo4jUser,
		neo4jPass:  *neo4jPass,
		batchSize:  *batchSize,
	}, log); err != nil {
		log.Error("ingest failed", "err", err)
		os.Exit(1)
	}
}

type config struct {
	qdrantAddr string
	reqColl    string
	appColl    string
	embedURL   string
	embedModel string
	neo4jURL   string
	neo4jUser  string
	neo4jPass  string
	batchSize  int
}

func run(ctx context.Context, file string, cfg config, log *slog.Logger) error {
	requestStore, err := semantic.New(cfg.qdrantAddr, cfg.reqColl)
	if err != nil {
		return fmt.Errorf("qdrant requests: %w", err)
	}
	defer requestStore.Close()

	appealStore, err := semantic.New(cfg.qdrantAddr, cfg.appColl)
	if err != nil {
		return fmt.Errorf("qdrant appeals: %w", err)
	}
	defer appealStore.Close()

	if err := requestStore.EnsureCollection(ctx, vectorDims); err != nil {
		return fmt.Errorf("ensure requests collection: %w", err)
	}
	if err := appealStore.EnsureCollection(ctx, vectorDims); err != nil {
		return fmt.Errorf("ensure appeals collection: %w", err)
	}

	requests := corpus.NewRequestIndex(requestStore)
	appeals := corpus.NewAppealIndex(appealStore)
	embedder := embedding.New(cfg.embedURL, cfg.embedModel, embedding.Opts{})

	var linkStore *links.Store
	if cfg.neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.neo4jURL, neo4j.BasicAuth(cfg.neo4jUser, cfg.neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(ctx)
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return fmt.Errorf("neo4j verify: %w", err)
		}
		linkStore = links.New(driver)
		log.Info("link writes enabled", "url", cfg.neo4jURL)
	}

	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	ing := &ingester{
		requests:  requests,
		appeals:   appeals,
		embedder:  embedder,
		links:     linkStore,
		batchSize: cfg.batchSize,
		log:       log,
	}
	return ing.indexAll(ctx, f)
}

type ingester struct {
	requests  *corpus.RequestIndex
	appeals   *corpus.AppealIndex
	embedder  *embedding.Client
	links     *links.Store
	batchSize int
	log       *slog.Logger

	reqBatch []domain.Request
	appBatch []domain.Appeal
	indexed  int
	skipped  int
}

func (g *ingester) indexAll(ctx context.Context, f *os.File) error {
	start := time.Now()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}

		var rec line
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			g.log.Warn("skipping malformed line", "line", lineNo, "err", err)
			g.skipped++
			continue
		}

		switch {
		case rec.Type == "request" && rec.Request != nil:
			g.reqBatch = append(g.reqBatch, *rec.Request)
			if len(g.reqBatch) >= g.batchSize {
				if err := g.flushRequests(ctx); err != nil {
					return err
				}
			}
		case rec.Type == "appeal" && rec.Appeal != nil:
			g.appBatch = append(g.appBatch, *rec.Appeal)
			if len(g.appBatch) >= g.batchSize {
				if err := g.flushAppeals(ctx); err != nil {
					return err
				}
			}
		default:
			g.log.Warn("skipping unknown record type", "line", lineNo, "type", rec.Type)
			g.skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read export: %w", err)
	}

	if err := g.flushRequests(ctx); err != nil {
		return err
	}
	if err := g.flushAppeals(ctx); err != nil {
		return err
	}

	g.log.Info("ingest done",
		"indexed", g.indexed,
		"skipped", g.skipped,
		"took", time.Since(start),
	)
	return nil
}

func (g *ingester) flushRequests(ctx context.Context) error {
	if len(g.reqBatch) == 0 {
		return nil
	}
	texts := fn.Map(g.reqBatch, func(r domain.Request) string { return r.Text() })
	vectors, err := g.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if err := g.requests.Put(ctx, g.reqBatch, vectors); err != nil {
		return err
	}
	g.indexed += len(g.reqBatch)
	g.log.Info("requests indexed", "count", len(g.reqBatch))
	g.reqBatch = g.reqBatch[:0]
	return nil
}

func (g *ingester) flushAppeals(ctx context.Context) error {
	if len(g.appBatch) == 0 {
		return nil
	}
	texts := fn.Map(g.appBatch, func(a domain.Appeal) string { return a.Text() })
	vectors, err := g.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if err := g.appeals.Put(ctx, g.appBatch, vectors); err != nil {
		return err
	}

	if g.links != nil {
		for _, a := range g.appBatch {
			if a.Protocol == "" {
				continue
			}
			if err := g.links.SaveLink(ctx, a.Protocol, a.ID, a.Decision); err != nil {
				// Links are an optimization for the joiner; a failed write
				// is not worth aborting the ingest.
				g.log.Warn("link write failed", "protocol", a.Protocol, "appeal", a.ID, "err", err)
			}
		}
	}

	g.indexed += len(g.appBatch)
	g.log.Info("appeals indexed", "count", len(g.appBatch))
	g.appBatch = g.appBatch[:0]
	return nil
}
