// Package main запускает HTTP-сервер сервиса биллинга.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adsengine/billing-system/internal/config"
	"github.com/adsengine/billing-system/internal/handler"
	"github.com/adsengine/billing-system/internal/middleware"
	"github.com/adsengine/billing-system/internal/repository"
	"github.com/adsengine/billing-system/internal/service"
	"github.com/adsengine/billing-system/internal/webhook"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	// Локальный .env удобен при разработке; его отсутствие не ошибка.
	_ = godotenv.Load()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	svc := service.NewService(repo, authMiddleware)
	defer svc.Close()

	reconciler := webhook.NewReconciler(repo, cfg.ProductPlans(), cfg.WebhookSecret, cfg.InsecureWebhooks, logger)
	if cfg.InsecureWebhooks {
		sugar.Warnw("insecure webhook mode enabled, signatures are not verified")
	}

	h := handler.NewHandler(svc, reconciler, logger, authMiddleware)

	r := h.SetupRouter(cfg.FrontendURL)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting billing server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
