// Package main запускает HTTP-сервер магазина чая.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akulagin/teashop-system/internal/config"
	"github.com/akulagin/teashop-system/internal/handler"
	"github.com/akulagin/teashop-system/internal/middleware"
	"github.com/akulagin/teashop-system/internal/notify"
	"github.com/akulagin/teashop-system/internal/payment"
	"github.com/akulagin/teashop-system/internal/receipt"
	"github.com/akulagin/teashop-system/internal/repository"
	"github.com/akulagin/teashop-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	if !cfg.PaymentsEnabled() {
		sugar.Warnw("payment gateway credentials are not configured, payments will fail")
	}
	gateway := payment.NewClient(cfg.PaymentAPIURL, cfg.PaymentTerminalKey, cfg.PaymentPassword)

	smsClient := notify.NewSMSClient(cfg.SMSAPIURL, cfg.SMSAPIKey, cfg.SMSSender)
	alerter := notify.NewTelegramAlerter(cfg.TelegramBotToken, cfg.TelegramChatID)

	receipts := receipt.NewScheduler(gateway, repo, smsClient, alerter, logger)

	svc := service.NewService(repo, gateway, smsClient, receipts, logger, service.Options{
		MinOrderKopecks: cfg.MinOrderAmount * 100,
		NotificationURL: cfg.PaymentNotificationURL,
		SuccessURL:      cfg.PaymentSuccessURL,
		FailURL:         cfg.PaymentFailURL,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	adminMiddleware := middleware.NewAdminMiddleware(cfg.AdminKey)

	h := handler.NewHandler(svc, logger, authMiddleware, adminMiddleware)
	r := handler.SetupRouter(h, logger)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting teashop server", "addr", cfg.RunAddress)
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

		// Дожидаемся фоновых проверок чеков, запущенных вебхуками.
		receipts.Wait()

		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
