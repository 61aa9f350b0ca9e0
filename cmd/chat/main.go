// Package main implements an interactive terminal chat over the LAI engine.
// It wires the full pipeline locally and keeps one conversation session for
// the lifetime of the process.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/acessolabs/lai-engine/engine/answer"
	"github.com/acessolabs/lai-engine/engine/corpus"
	"github.com/acessolabs/lai-engine/engine/domain"
	"github.com/acessolabs/lai-engine/engine/retrieval"
	"github.com/acessolabs/lai-engine/engine/semantic"
	"github.com/acessolabs/lai-engine/engine/session"
	"github.com/acessolabs/lai-engine/engine/xref"
	"github.com/acessolabs/lai-engine/pkg/embedding"
	"github.com/acessolabs/lai-engine/pkg/generate"
)

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	qdrantAddr := envOr("QDRANT_URL", "localhost:6334")
	embedURL := envOr("EMBED_URL", "http://localhost:11434")
	embedModel := envOr("EMBED_MODEL", "nomic-embed-text")
	genURL := envOr("GENERATE_URL", "http://localhost:11434")
	genModel := envOr("GENERATE_MODEL", "llama3")

	requestStore, err := semantic.New(qdrantAddr, envOr("REQUESTS_COLLECTION", "lai_requests"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "qdrant requests:", err)
		os.Exit(1)
	}
	defer requestStore.Close()

	appealStore, err := semantic.New(qdrantAddr, envOr("APPEALS_COLLECTION", "lai_appeals"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "qdrant appeals:", err)
		os.Exit(1)
	}
	defer appealStore.Close()

	requests := corpus.NewRequestIndex(requestStore)
	appeals := corpus.NewAppealIndex(appealStore)
	embedder := embedding.New(embedURL, embedModel, embedding.Opts{})
	generator := generate.New(genURL, genModel, generate.Opts{})

	retriever := retrieval.New(embedder, requests, appeals, logger)
	joiner := xref.New(embedder, requests, appeals, nil, xref.DefaultOptions(), logger)
	svc := answer.New(retriever, joiner, generator, session.NewStore(0), answer.DefaultOptions(), nil, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("LAI engine chat. Perguntas sobre pedidos e recursos; /reset limpa a conversa; /quit sai.")
	repl(ctx, svc)
}

const sessionID = "terminal"

func repl(ctx context.Context, svc *answer.Service) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit", line == "/exit":
			return
		case line == "/reset":
			svc.ResetSession(sessionID)
			fmt.Println("conversa reiniciada.")
			continue
		}

		res, err := svc.Ask(ctx, sessionID, domain.Query{Text: line})
		if err != nil {
			printError(err)
			continue
		}
		printResult(res)

		if ctx.Err() != nil {
			return
		}
	}
}

func printResult(res *answer.Result) {
	if res.Answer != "" {
		fmt.Println(res.Answer)
	} else {
		fmt.Println("(geração indisponível; evidências abaixo)")
	}

	if res.Stats != nil {
		fmt.Printf("\nResultado previsto: %s (amostra de %d casos)\n", res.Stats.Predicted, res.Stats.Sample)
		for _, d := range domain.PredictionPriority {
			if c, ok := res.Stats.ByDecision[d]; ok {
				fmt.Printf("  %-18s %3d  %.2f%%\n", d, c.Count, c.Percentage)
			}
		}
	}

	if len(res.Evidence) > 0 {
		fmt.Println("\nFontes:")
		for _, ev := range res.Evidence {
			fmt.Printf("  [%s] (%.2f)\n", ev.Label, ev.Score)
		}
	}
	fmt.Println()
}

func printError(err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fmt.Println("registro não encontrado.")
	case errors.Is(err, domain.ErrMalformedQuery):
		fmt.Println("pergunta inválida:", err)
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		fmt.Println("serviço de embeddings indisponível, tente novamente.")
	default:
		fmt.Println("erro:", err)
	}
}
