package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/portside/portside/internal/agent"
	"github.com/portside/portside/internal/api"
	"github.com/portside/portside/internal/audit"
	"github.com/portside/portside/internal/auth"
	"github.com/portside/portside/internal/reconciler"
	"github.com/portside/portside/internal/store"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the panel API server",
	Long:  `Start the HTTP API server with Echo framework`,
	RunE:  runServer,
}

// runServer is the composition root: it builds the store, agent client,
// access checker, audit logger and reconciler, and injects them into the
// API server. Nothing here is a process-wide singleton.
func runServer(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	auditLog := audit.NewLogger(st)
	rec := reconciler.New(st, agent.NewClient(cfg), auth.NewChecker(st), auditLog)
	server := api.New(cfg, st, rec, auditLog)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\nShutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			cfg.Server.ShutdownTimeout,
		)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return nil

	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}
