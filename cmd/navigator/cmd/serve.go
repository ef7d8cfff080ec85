package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/cmd/cmdutil"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/logging"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/server"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/telemetry"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session API server",
	Long: `Serves the session API over HTTP, together with the directory administration
endpoints. Every client gets its own session: local mode tracks it with an
HttpOnly cookie, edge mode resolves it from the cookies the edge proxy set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// The server logs JSON regardless of the CLI log format.
		log := logging.New(cfg.Log.Level, "json", os.Stderr)

		shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability, log)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				log.Warn("telemetry shutdown failed", "error", err)
			}
		}()

		app, err := cmdutil.NewApp(ctx, cfg, log, cmdutil.AppOptions{Migrate: serveMigrate})
		if err != nil {
			return err
		}
		defer app.Close()

		clients, err := server.NewClientSessions(server.ClientSessionsOptions{
			Mode: app.Mode,
			New: func() (server.SessionService, error) {
				return app.NewClientSession()
			},
			TTL:        cfg.Session.ClientTTL,
			MaxClients: cfg.Session.MaxClients,
			Logger:     log.With("component", "clients"),
		})
		if err != nil {
			return err
		}
		defer clients.Close()
		log.Info("serving per-client sessions", "mode", app.Mode, "max_clients", cfg.Session.MaxClients)

		if interval := cfg.Session.RevalidateInterval; interval > 0 {
			log.Info("session revalidation enabled", "interval", interval)
			go clients.Revalidate(ctx, interval)
		}

		corsOpts := server.DefaultCORSOptions()
		if len(cfg.CORS.AllowedOrigins) > 0 {
			corsOpts.AllowedOrigins = cfg.CORS.AllowedOrigins
		}
		handler, err := server.NewH2CHandler(server.RouterOptions{
			Sessions:    clients,
			Directory:   app.Directory.Directory,
			Logger:      log.With("component", "server"),
			CORSOptions: &corsOpts,
		})
		if err != nil {
			return fmt.Errorf("build router: %w", err)
		}

		srv := &http.Server{
			Addr:              cfg.ServerAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("listening", "addr", cfg.ServerAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Apply pending migrations before serving")
	rootCmd.AddCommand(serveCmd)
}
