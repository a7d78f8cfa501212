package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/ec-storefront/internal/config"
	"github.com/example/ec-storefront/internal/logging"
	"github.com/example/ec-storefront/internal/sandbox"
)

func main() {
	cfg, err := config.Load(getEnv("STOREFRONT_CONFIG", ""))
	if err != nil {
		logging.Base().Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logging.Init("sandbox", cfg.Log.File, cfg.Log.Level)

	taxRate, err := decimal.NewFromString(cfg.Sandbox.TaxRate)
	if err != nil {
		log.Error("invalid sandbox.tax_rate", "value", cfg.Sandbox.TaxRate, "error", err)
		os.Exit(1)
	}

	opts := []sandbox.Option{
		sandbox.WithTaxRate(taxRate),
		sandbox.WithTokenTTL(cfg.Sandbox.TokenTTL),
		sandbox.WithLogger(log),
	}
	if cfg.Sandbox.JWTSecret != "" {
		if len(cfg.Sandbox.JWTSecret) < 32 {
			log.Error("sandbox.jwt_secret must be at least 32 characters long")
			os.Exit(1)
		}
		opts = append(opts, sandbox.WithJWTSecret(cfg.Sandbox.JWTSecret))
	}
	srv := sandbox.New(opts...)

	if email := os.Getenv("SANDBOX_ADMIN_EMAIL"); email != "" {
		if _, err := srv.AddUser("Admin", email, getEnv("SANDBOX_ADMIN_PASSWORD", "password"), "admin"); err != nil {
			log.Error("failed to create admin user", "email", email, "error", err)
			os.Exit(1)
		}
		log.Info("admin user created", "email", email)
	}

	server := &http.Server{
		Addr:              cfg.Sandbox.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("sandbox API listening", "addr", cfg.Sandbox.Addr, "tax_rate", taxRate.String())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
