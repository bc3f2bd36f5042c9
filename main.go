package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/princinho/vrixsa/config"
	"github.com/princinho/vrixsa/controllers"
	"github.com/princinho/vrixsa/database"
	"github.com/princinho/vrixsa/devices"
	"github.com/princinho/vrixsa/identity"
	"github.com/princinho/vrixsa/logging"
	"github.com/princinho/vrixsa/mailer"
	"github.com/princinho/vrixsa/metrics"
	"github.com/princinho/vrixsa/middleware"
	"github.com/princinho/vrixsa/services"
	"github.com/princinho/vrixsa/storage"
	"github.com/princinho/vrixsa/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stdout})
	slog.SetDefault(logger)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := database.Connect(startCtx, cfg.MongoURI)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect", "error", err)
		}
	}()

	users := database.NewUserStore(database.OpenCollection(client, cfg.DatabaseName, "users"))
	if err := users.EnsureIndexes(startCtx); err != nil {
		return err
	}
	if cfg.AdminEmail != "" {
		hash, err := utils.HashPassword(cfg.AdminPassword)
		if err != nil {
			return err
		}
		if _, err := users.SeedAdmin(startCtx, cfg.AdminEmail, hash); err != nil {
			return err
		}
	}

	queue, err := mailer.Open(startCtx, mailer.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		QueueKey: cfg.EmailQueueKey,
	})
	if err != nil {
		return err
	}
	defer queue.Close()

	codec, err := utils.NewTokenCodec(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}
	reg := metrics.NewRegistry()

	verify := services.NewVerificationService(users, queue, services.VerificationConfig{
		TTL:       cfg.OneTimeTTL,
		ClientURL: cfg.ClientURL,
	}, reg, logger)

	deps := services.AuthDeps{
		Users:        users,
		Codec:        codec,
		Devices:      devices.NewRegistry(cfg.DevicePolicy),
		Verification: verify,
		Metrics:      reg,
		Logger:       logger,
	}
	if cfg.GoogleClientID != "" {
		google, err := identity.NewGoogleVerifier(startCtx, cfg.GoogleClientID)
		if err != nil {
			return err
		}
		deps.Identity = google
	} else {
		logger.Info("GOOGLE_CLIENT_ID not set, social login disabled")
	}
	auth := services.NewAuthService(deps, services.AuthConfig{
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		AdminEmail: cfg.AdminEmail,
	})

	avatars, closeAvatars, err := openAvatarStore(startCtx, cfg)
	if err != nil {
		return err
	}
	defer closeAvatars()

	r := gin.New()
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return slices.Contains(cfg.AllowedOrigins, origin)
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.DeviceIDHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	d := &controllers.Deps{
		Auth:         auth,
		Verification: verify,
		Cookies:      cfg.Cookies,
		Avatars:      avatars,
	}
	if avatars != nil {
		d.Validator = storage.NewImageValidator(cfg.MaxUploadSizeMB)
	}
	controllers.RegisterRoutes(r, d, reg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "device_policy", cfg.DevicePolicy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

// openAvatarStore picks the upload backend. Uploads are disabled when no
// driver is configured.
func openAvatarStore(ctx context.Context, cfg *config.Config) (storage.AvatarStore, func(), error) {
	switch cfg.StorageDriver {
	case "r2":
		s, err := storage.NewR2Store(ctx, storage.R2Options{
			Bucket:       cfg.R2Bucket,
			AccessKey:    cfg.R2AccessKey,
			SecretKey:    cfg.R2SecretKey,
			Endpoint:     cfg.R2Endpoint,
			PublicDomain: cfg.R2PublicDomain,
		})
		if err != nil {
			return nil, func() {}, err
		}
		return s, func() {}, nil
	case "gcs":
		s, err := storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentials)
		if err != nil {
			return nil, func() {}, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		slog.Info("STORAGE_DRIVER not set, avatar uploads disabled")
		return nil, func() {}, nil
	}
}
