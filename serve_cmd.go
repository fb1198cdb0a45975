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

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/api"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the HTTP service",
	Long:    paragraph(fmt.Sprintf("\n%s POST /tts and /tts/ssml, GET /voices, /download/<id>, /static/audio/..., /stats and /healthz.", keyword("Serve"))),
	Example: paragraph("ttscache serve\nttscache serve --listen 127.0.0.1:9000 --base-url https://tts.example.com"),
	Args:    cobra.NoArgs,
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8000", "address to listen on")
	serveCmd.Flags().String("base-url", "", "public prefix for audio URLs")
	serveCmd.Flags().Int("rate-limit", 30, "synthesis requests per minute per client IP (negative disables)")

	_ = viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("base_url", serveCmd.Flags().Lookup("base-url"))
	_ = viper.BindPFlag("rate_limit.per_minute", serveCmd.Flags().Lookup("rate-limit"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: api.NewServer(api.Options{
			Service:     a.svc,
			RateLimit:   cfg.RateLimit,
			CORSOrigins: cfg.CORSOrigins,
			Logger:      log.Default(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Listening", "addr", cfg.Listen, "audio_dir", a.store.Root(), "cache", cfg.CacheEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
