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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kidandcat/teamsync/internal/api"
	"github.com/kidandcat/teamsync/internal/app"
	"github.com/kidandcat/teamsync/internal/assist"
	"github.com/kidandcat/teamsync/internal/auth"
	"github.com/kidandcat/teamsync/internal/db"
	"github.com/kidandcat/teamsync/internal/handlers"
	"github.com/kidandcat/teamsync/internal/live"
	"github.com/kidandcat/teamsync/internal/seed"
	"github.com/kidandcat/teamsync/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server",
	RunE:  runServe,
}

var (
	serveAddr    string
	serveStorage string
	serveSeed    bool
)

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	f.StringVar(&serveStorage, "storage", "", "storage backend: sqlite, surreal or memory (overrides config)")
	f.BoolVar(&serveSeed, "seed", false, "load seed data before serving")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if serveStorage != "" {
		cfg.Storage.Backend = serveStorage
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	log := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gw, err := db.Open(ctx, cfg, db.Options{Logger: log, Metrics: db.NewMetrics(reg)})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer gw.Close()

	if serveSeed {
		fx, err := seed.FromFile(cfg.Seed)
		if err != nil {
			return err
		}
		if _, err := seed.Apply(ctx, gw, fx, time.Now(), log); err != nil {
			return err
		}
	}

	am := auth.NewManager(gw, log)
	if err := am.EnsureAdmins(ctx, cfg.Admins); err != nil {
		return fmt.Errorf("sync admins: %w", err)
	}

	s := store.New(gw, log)
	a := app.New(s, am, assist.NewClient(cfg.Assist, log), log)
	if err := a.Load(ctx); err != nil {
		return err
	}

	hub := live.NewHub(s, am, log)
	hub.Start(ctx)

	mux := http.NewServeMux()
	api.New(a, log).RegisterRoutes(mux)
	handlers.New(a, log).RegisterRoutes(mux)
	mux.Handle("GET /api/live", hub)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("storage", cfg.Storage.Backend).Msg("teamsync listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := s.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("pending writes not flushed")
	}
	return nil
}
