package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scalpscan/internal/api"
	"scalpscan/internal/blob"
	"scalpscan/internal/config"
	"scalpscan/internal/logging"
	"scalpscan/internal/metrics"
	"scalpscan/internal/redis"
	"scalpscan/internal/service/analysis"
	"scalpscan/internal/service/gallery"
	"scalpscan/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("SCALPSCAN_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup(cfg.BasicConfig.LogLevel, cfg.BasicConfig.LogFormat)
	for _, w := range cfg.Validate() {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := blob.NewS3Store(ctx, cfg.Blob)
	if err != nil {
		log.Fatalf("init blob store: %v", err)
	}
	galleryOpts := gallery.Options{
		ListingTTL:   time.Duration(cfg.BasicConfig.ListingCacheTTL) * time.Second,
		MaxFiles:     cfg.BasicConfig.MaxFiles,
		MaxFileBytes: cfg.BasicConfig.MaxFileBytes,
		Logger:       logger,
	}
	analysisOpts := analysis.Options{
		CacheTTL: time.Duration(cfg.BasicConfig.AnalysisCacheTTL) * time.Minute,
		Logger:   logger,
	}

	// The metadata mirror is optional; the bucket stays the source of truth.
	if dbType := cfg.BasicConfig.Database; dbType != "" {
		if _, ok := cfg.Databases[dbType]; ok {
			db, err := storage.Open(ctx, dbType, cfg)
			if err != nil {
				log.Fatalf("open database: %v", err)
			}
			defer db.Close()
			if err := storage.Migrate(ctx, db, dbType); err != nil {
				log.Fatalf("migrate database: %v", err)
			}
			galleryOpts.Photos = storage.NewPhotoStore(db)
			logger.Info("metadata mirror enabled", "driver", dbType)
		}
	}

	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, caching disabled", "err", err)
		} else {
			defer rdb.Close()
			galleryOpts.Cache = rdb
			analysisOpts.Cache = rdb
		}
	}

	gallerySvc := gallery.NewService(store, blob.NewInitializer(store.EnsureBucket), galleryOpts)

	provider := cfg.BasicConfig.Provider
	gateway, err := analysis.New(ctx, provider, cfg.ActiveProvider(), analysisOpts)
	if err != nil {
		log.Fatalf("init analysis gateway: %v", err)
	}

	handlers := api.NewHandler(gallerySvc, gateway, metrics.New(), api.Options{
		MaxBodyBytes: cfg.BasicConfig.MaxBodyBytes,
		Provider:     provider,
		Logger:       logger,
	})

	if cfg.BasicConfig.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}()

	logger.Info("listening", "addr", srv.Addr, "bucket", store.Bucket(), "provider", provider, "analysis", gateway.Configured())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server stopped: %v", err)
	}
}
