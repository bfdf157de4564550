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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/stwalsh4118/homefinder/api/internal/auth"
	"github.com/stwalsh4118/homefinder/api/internal/cache"
	"github.com/stwalsh4118/homefinder/api/internal/config"
	"github.com/stwalsh4118/homefinder/api/internal/database"
	"github.com/stwalsh4118/homefinder/api/internal/discovery"
	"github.com/stwalsh4118/homefinder/api/internal/geocode"
	"github.com/stwalsh4118/homefinder/api/internal/handlers"
	"github.com/stwalsh4118/homefinder/api/internal/listing"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
	"github.com/stwalsh4118/homefinder/api/internal/metrics"
	"github.com/stwalsh4118/homefinder/api/internal/middleware"
	"github.com/stwalsh4118/homefinder/api/internal/propertyapi"
	"github.com/stwalsh4118/homefinder/api/internal/repository"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	// A missing .env is normal outside local development.
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(cfg.Server.Env, cfg.Server.LogLevel)
	log.Info("Starting HomeFinder API", map[string]interface{}{
		"version":     handlers.APIVersion,
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
		"dotenv":      envErr == nil,
	})

	ctx := context.Background()
	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
			"name": cfg.Database.Name,
		})
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal("Failed to migrate database", err, nil)
	}

	log.Info("Database connection established", map[string]interface{}{
		"host":      cfg.Database.Host,
		"port":      cfg.Database.Port,
		"database":  cfg.Database.Name,
		"pool_min":  cfg.Database.PoolMin,
		"pool_max":  cfg.Database.PoolMax,
		"pool_idle": db.Stats().IdleConns(),
	})

	rdb := cache.New(cfg.Redis)
	defer rdb.Close()
	if err := rdb.Ping(ctx); err != nil {
		// Cache errors fall through to the upstream APIs.
		log.Warn("Redis unavailable at startup", map[string]interface{}{
			"addr":  cfg.Redis.Addr,
			"error": err.Error(),
		})
	}

	geocoder, err := geocode.NewClient(cfg.Geocode, log)
	if err != nil {
		log.Fatal("Failed to create geocoding client", err, nil)
	}
	resolver := geocode.NewCachedResolver(geocoder, rdb, cfg.Geocode.CacheTTL, log)

	properties, err := propertyapi.NewClient(cfg.PropertyAPI, log)
	if err != nil {
		log.Fatal("Failed to create property API client", err, nil)
	}
	source := listing.NewCachedSource(properties, rdb, cfg.Sync.ListingCache, log)
	details := listing.NewCachedGetter(properties, rdb, cfg.Sync.ListingCache, log)

	favoriteRepo := repository.NewFavoriteRepository(db)

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		log.Fatal("Failed to create token verifier", err, nil)
	}

	manager := discovery.NewManager(
		discovery.NewDeps(source, resolver, favoriteRepo, cfg.Sync, log),
		cfg.Sync.SessionTTL,
	)
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	go manager.Run(janitorCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// RequestID -> Logger -> Recovery -> Metrics -> CORS -> Authenticate
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Metrics())
	router.Use(middleware.CORS(cfg.CORS.Origins))
	router.Use(middleware.Authenticate(verifier))

	healthHandler := handlers.NewHealthHandler(db, rdb, cfg.Server.Env)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler(metrics.InitRegistry())))

	v1 := router.Group("/api/v1")
	v1.GET("/info", healthHandler.Info)
	handlers.RegisterSessionRoutes(v1, handlers.NewSessionHandler(manager, cfg.CORS.Origins))
	handlers.RegisterPropertyRoutes(v1, handlers.NewPropertyHandler(details))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; closing the
	// sessions closes their hubs.
	stopJanitor()
	manager.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", nil)
}
