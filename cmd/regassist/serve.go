package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/openregs/regassist/internal/agent"
	"github.com/openregs/regassist/internal/api"
	"github.com/openregs/regassist/internal/cache"
	"github.com/openregs/regassist/internal/config"
	"github.com/openregs/regassist/internal/indexer"
	"github.com/openregs/regassist/internal/llm"
	"github.com/openregs/regassist/internal/mcpserver"
	"github.com/openregs/regassist/internal/orchestrator"
	"github.com/openregs/regassist/internal/personaldocs"
	"github.com/openregs/regassist/internal/regulatory/aps"
	"github.com/openregs/regassist/internal/regulatory/cfr"
	"github.com/openregs/regassist/internal/regulatory/drs"
	"github.com/openregs/regassist/internal/searchclient"
	"github.com/openregs/regassist/internal/storage"
	"github.com/openregs/regassist/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversational API, background indexer, and MCP mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	fmt.Fprintf(os.Stderr, "regassist version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()

	llmClient := llm.New(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	sc := searchclient.New(cfg.SearchProxy.URL, cfg.SearchProxy.SharedSecret)
	c := cache.New(store)
	ix := indexer.NewIndexer(store, c, indexer.NewEmbedder(llmClient, cfg.LLM.EmbedModel), sc, time.Second)
	go ix.Run(ctx)

	cfrClient := cfr.New(cfg.Regulatory.CFRBaseURL)
	drsClient := drs.New(cfg.Regulatory.DRSBaseURL, cfg.Regulatory.DRSAPIKey)

	toolSet, memo := agent.BuildToolSet(agent.Deps{
		Storage:     store,
		Cache:       c,
		Indexer:     ix,
		LLM:         llmClient,
		EmbedModel:  cfg.LLM.EmbedModel,
		SearchProxy: sc,
		CFR:         cfrClient,
		DRS:         drsClient,
		APS:         aps.New(cfg.Regulatory.APSBaseURL, cfg.Regulatory.APSAPIKey),
	})

	agents, err := agent.Build(cfg, toolSet)
	if err != nil {
		return fmt.Errorf("building agent registry: %w", err)
	}

	orch := orchestrator.New(store, llmClient, cfg.LLM.Model, cfg.LLM.ReasoningBudget)
	orch.MaxToolRounds = cfg.Limits.MaxToolRounds
	orch.TurnTimeout = time.Duration(cfg.Limits.TurnTimeoutSeconds) * time.Second

	docs := personaldocs.New(store, ix, sc, personaldocs.Limits{
		MaxSizeBytes: int64(cfg.Limits.PersonalDocsMaxSizeMB) << 20,
		MaxPerUser:   cfg.Limits.PersonalDocsMaxPerUse,
	})

	token, err := sharedToken()
	if err != nil {
		return err
	}

	handler := api.NewAppHandler(api.AppDeps{
		Storage:      store,
		Orchestrator: orch,
		Agents:       agents,
		PersonalDocs: docs,
		Memo:         memo,
		Token:        token,
	})

	// The MCP mirror wraps its own instances of the same three tools
	// rather than the agent catalog's, sharing only the underlying
	// storage/cache so caching and indexing semantics stay consistent
	// across both surfaces.
	mcpSrv := mcpserver.NewServer(mcpserver.Deps{
		SearchIndexedContent: &tools.SearchIndexedContent{LLM: llmClient, EmbedModel: cfg.LLM.EmbedModel, SearchProxy: sc},
		FetchCFRSection:      &tools.FetchCFRSection{Cache: c, CFR: cfrClient, Scheduler: ix},
		FetchDRSDocument:     &tools.FetchDRSDocument{Cache: c, DRS: drsClient, Scheduler: ix},
	})

	return runHTTPAndMCP(ctx, cfg, handler, mcpSrv)
}

// runHTTPAndMCP starts the HTTP server and the stdio MCP mirror side by
// side, shutting both down together on context cancellation.
func runHTTPAndMCP(ctx context.Context, cfg config.Config, handler http.Handler, mcpSrv *server.MCPServer) error {
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP mirror started (stdio transport)")

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		printStatus("listening", "%s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		printStep("shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorBold, "→ "+fmt.Sprintf(format, args...)))
}

func sharedToken() (string, error) {
	token := os.Getenv("REGASSIST_API_TOKEN")
	if token == "" {
		return "", fmt.Errorf("missing required config: REGASSIST_API_TOKEN must be set")
	}
	return token, nil
}
