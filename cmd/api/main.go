package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"github.com/j4xie/my-prototype-logistics-sub021/internal/activation"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/auth"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/config"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/db"
	httphandler "github.com/j4xie/my-prototype-logistics-sub021/internal/http"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/http/handlers"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/register"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/repo"
	"github.com/j4xie/my-prototype-logistics-sub021/internal/verify"

	_ "github.com/lib/pq"
)

func main() {
	// .env from CWD; env vars override.
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Repositories
	tenantRepo := repo.NewTenantRepo(database)
	userRepo := repo.NewUserRepo(database)
	whitelistRepo := repo.NewWhitelistRepo(database)
	verificationRepo := repo.NewVerificationRepo(database)
	sessionRepo := repo.NewSessionRepo(database)
	activationRepo := repo.NewActivationRepo(database)

	// Services
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL)
	sessionService := auth.NewSessionService(userRepo, sessionRepo, jwtService, cfg.RefreshTokenTTL)
	verifyService := verify.NewService(verificationRepo)
	registerService := register.NewService(tenantRepo, whitelistRepo, userRepo, verifyService)
	activationService := activation.NewService(activationRepo)

	// Handlers
	authHandler := handlers.NewAuthHandler(registerService, sessionService)
	activationHandler := handlers.NewActivationHandler(activationService)

	router := httphandler.NewRouter(authHandler, activationHandler, sessionService)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// runMigrations runs database migrations using goose.
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the module root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
