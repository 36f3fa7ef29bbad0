package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/pairpad/server/internal/api"
	"github.com/pairpad/server/internal/config"
	"github.com/pairpad/server/internal/history"
	"github.com/pairpad/server/internal/registry"
	"github.com/pairpad/server/internal/store"
	"github.com/pairpad/server/internal/store/memory"
	"github.com/pairpad/server/internal/store/sqlite"
	"github.com/pairpad/server/internal/ws"
)

func openStore(cfg config.Config) (store.DocumentStore, error) {
	switch cfg.Storage {
	case "memory":
		logrus.Info("using in-memory document store")
		return memory.New(), nil
	default:
		logrus.WithField("path", cfg.DBPath).Info("using sqlite document store")
		return sqlite.New(cfg.DBPath)
	}
}

func main() {
	cfg := config.Load()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithField("level", cfg.LogLevel).Fatal("invalid log level")
	}
	logrus.SetLevel(level)

	documents, err := openStore(cfg)
	if err != nil {
		logrus.WithField("error", err).Fatal("failed to initialize document store")
	}
	defer documents.Close()

	reg := registry.New(documents)

	var autosave *history.Service
	if hs, ok := documents.(store.HistoryStore); ok {
		autosave = history.NewService(documents, hs, history.Config{
			Interval: cfg.AutosaveInterval,
			Keep:     cfg.AutosaveKeep,
		})
		autosave.Start()
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	apiHandler := api.New(reg, documents)
	apiHandler.Register(r)

	r.Get("/ws/{roomID}", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(reg, w, req)
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logrus.Info("shutting down server")
		if autosave != nil {
			autosave.Stop()
		}
		documents.Close()
		os.Exit(0)
	}()

	logrus.WithField("addr", cfg.Addr).Info("pairpad server starting")
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		logrus.WithField("error", err).Fatal("server stopped")
	}
}
