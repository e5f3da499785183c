package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"serotonyl.ru/credit-ledger/internal/app"
)

// shutdownTimeout — сколько ждать текущие запросы при остановке.
const shutdownTimeout = 15 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP API и сверку по расписанию",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	log.Info("=== Сервис запускается ===")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Контекст отменяется по Ctrl+C / docker stop
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализируем приложение (БД, Redis, сервисы, HTTP)
	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	// Запускаем планировщик задач (cron)
	if application.Scheduler != nil {
		if err := application.Scheduler.Start(ctx); err != nil {
			return err
		}
		defer application.Scheduler.Stop()
	}

	// Запускаем HTTP-сервер в отдельной горутине
	serveErr := make(chan error, 1)
	go func() { serveErr <- application.Server.Start() }()

	log.Info("=== Сервис готов к работе ===")

	// Ждём сигнала остановки или падения сервера
	select {
	case <-ctx.Done():
		log.Info("Получен сигнал остановки, останавливаемся...")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := application.Server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP-сервер остановлен не чисто")
	}

	log.Info("=== Сервис остановлен ===")
	return nil
}
