package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rpattn/metacat/internal/catalog"
	"github.com/rpattn/metacat/internal/config"
	"github.com/rpattn/metacat/internal/db"
	"github.com/rpattn/metacat/internal/events"
	"github.com/rpattn/metacat/internal/export"
	"github.com/rpattn/metacat/internal/metrics"
	"github.com/rpattn/metacat/internal/repository"
	"github.com/rpattn/metacat/migrations"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(migrations.FS, cfg.Database.MigrateURL()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)

	store := repository.NewPostgresStore(conn)

	notifier := events.NewWebhookNotifier(&events.WebhookConfig{
		URLs:    cfg.Webhook.URLs,
		Timeout: cfg.Webhook.Timeout,
	}, logger, recorder)
	emitter := events.NewEmitter(store.Events(), notifier, logger)

	cat := catalog.New(store, catalog.NewRegistry(), emitter,
		catalog.WithLogger(logger),
		catalog.WithMetrics(recorder),
	)

	exporter := export.NewService(cat, export.WithExportDirectory(cfg.Export.Directory))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/exports/history/", historyExportHandler(exporter, logger))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	logger.Info("server exited")
}

func parseEntityID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(strings.Trim(raw, "/"))
	if raw == "" {
		return uuid.Nil, errors.New("missing entity id")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid entity id: %w", err)
	}
	return id, nil
}

// historyExportHandler streams an entity's version history. The entity id is
// the path suffix; ?format=xlsx switches from the CSV default.
func historyExportHandler(exporter *export.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idPart := strings.TrimPrefix(r.URL.Path, "/exports/history/")
		id, err := parseEntityID(idPart)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		switch r.URL.Query().Get("format") {
		case "", "csv":
			w.Header().Set("Content-Type", "text/csv")
			if err := exporter.WriteHistoryCSV(r.Context(), w, id); err != nil {
				logger.Error("history export failed", "entity", id, "error", err)
				http.Error(w, "export failed", http.StatusInternalServerError)
			}
		case "xlsx":
			workbook, err := exporter.HistoryWorkbook(r.Context(), id)
			if err != nil {
				logger.Error("history export failed", "entity", id, "error", err)
				http.Error(w, "export failed", http.StatusInternalServerError)
				return
			}
			defer workbook.Close()
			w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			if _, err := workbook.WriteTo(w); err != nil {
				logger.Error("history export write failed", "entity", id, "error", err)
			}
		default:
			http.Error(w, "unsupported format", http.StatusBadRequest)
		}
	}
}
