package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/openartifacts/catalog/pkg/catalog"
	"github.com/openartifacts/catalog/pkg/common/config"
	"github.com/openartifacts/catalog/pkg/common/database"
	"github.com/openartifacts/catalog/pkg/common/kafka"
	"github.com/openartifacts/catalog/pkg/common/logger"
	"github.com/openartifacts/catalog/pkg/identity"
	"github.com/openartifacts/catalog/pkg/importer"
	"github.com/openartifacts/catalog/pkg/middleware"
	"github.com/openartifacts/catalog/pkg/recommend"
	"github.com/openartifacts/catalog/pkg/search"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer database.ClosePostgres()

	redisClient := database.GetRedis()
	defer database.CloseRedis()

	catalogRepo := catalog.NewRepository(db)
	if err := catalogRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate catalog tables")
	}
	importerRepo := importer.NewRepository(db)
	if err := importerRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate importer tables")
	}
	identityRepo := identity.NewRepository(db)
	if err := identityRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate identity tables")
	}

	statsProducer := kafka.NewProducer(cfg.SearchStatsTopic)
	defer statsProducer.Close()
	importProducer := kafka.NewProducer(cfg.ImportEventTopic)
	defer importProducer.Close()

	catalogService := catalog.NewService(catalogRepo, redisClient, cfg.RecentViewTTL)
	searchService := search.NewService(
		search.NewRepository(db, cfg.ArtifactURIFmt),
		statsProducer,
		cfg.SearchDefaultItemsPerPage,
		cfg.SearchMaxItemsPerPage,
	)
	recommendService := recommend.NewService(catalogRepo, searchService)
	importerService := importer.NewService(importerRepo, importer.NewCatalogMaterializer(db), importProducer)
	identityService := identity.NewService(identityRepo, identity.NewVerifiers(cfg), cfg.SessionTimeout)

	catalogHandler := catalog.NewHTTPHandler(catalogService)
	searchHandler := search.NewHTTPHandler(searchService, searchService)
	recommendHandler := recommend.NewHTTPHandler(recommendService)
	importerHandler := importer.NewHTTPHandler(importerService)
	identityHandler := identity.NewHTTPHandler(identityService)

	router := mux.NewRouter()
	router.Use(middleware.Logging, middleware.Recovery)
	router.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	router.HandleFunc("/ready", readyCheck(db)).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	if cfg.APIKey != "" {
		api.Use(middleware.APIKey(cfg.APIKey))
	}
	public := api.NewRoute().Subrouter()
	protected := api.NewRoute().Subrouter()
	protected.Use(identityHandler.SessionMiddleware())

	identityHandler.Register(public, protected)
	catalogHandler.Register(public, protected)
	searchHandler.Register(public)
	recommendHandler.Register(public)
	importerHandler.Register(public, protected)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Expired sessions are swept in the background.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := identityService.ReapExpiredSessions(ctx); err != nil {
					logger.Log.WithError(err).Warn("Session sweep failed")
				} else if n > 0 {
					logger.Log.WithField("count", n).Info("Reaped expired sessions")
				}
			}
		}
	}()

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Catalog service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down catalog service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server shutdown failed")
	}
	logger.Log.Info("Catalog service stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyCheck(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(r.Context()) != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}
