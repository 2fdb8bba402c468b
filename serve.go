package main

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

	"github.com/formwise-ai/advisor/internal/api"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Starts the advisor in server mode, exposing the chat API, thread inspection, health and Prometheus metrics over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTPAddr = addr
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logx.Warn().Err(err).Msg("error releasing resources")
			}
		}()

		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.NewHandler(a.runner, a.registry, cfg.RequestTimeout),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logx.Info().Str("addr", srv.Addr).Str("environment", cfg.Environment).Msg("starting advisor server")
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			logx.Info().Str("signal", sig.String()).Msg("start shutdown")

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logx.Warn().Err(err).Dur("timeout", shutdownTimeout).Msg("graceful shutdown did not complete")
				if err := srv.Close(); err != nil {
					logx.Error().Err(err).Msg("error killing server")
				}
			}
			logx.Info().Msg("advisor server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (overrides HTTP_ADDR)")
}
