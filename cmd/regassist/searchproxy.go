package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openregs/regassist/internal/config"
	"github.com/openregs/regassist/internal/searchproxy"
)

var searchProxyCmd = &cobra.Command{
	Use:   "searchproxy",
	Short: "Run the chunk index and search proxy in-process",
	Long: `Run the chunk index and search proxy in-process, as an
alternative to the standalone searchproxy binary for single-host
deployments that don't need the two services split across machines.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSearchProxy()
	},
}

func runSearchProxy() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := searchproxy.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening chunk store: %w", err)
	}
	defer store.Close()

	handler := searchproxy.NewHandler(searchproxy.Deps{
		Store:              store,
		RegulatoryWriteKey: cfg.SearchProxy.SharedSecret,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.SearchProxy.Port)
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
