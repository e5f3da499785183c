// Package main — точка входа сервиса леджера.
// Команды: serve (HTTP + сверка по расписанию), migrate, reconcile, hash-token.
package main

import (
	"errors"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"serotonyl.ru/credit-ledger/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "ledger",
	Short:         "Сервис кредитов: балансы, журнал транзакций, идемпотентность",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		setupLogging()
	},
}

// errDrift — сверка нашла расхождения (код выхода 2).
var errDrift = errors.New("найдены расхождения балансов с журналом")

func main() {
	err := rootCmd.Execute()
	switch {
	case err == nil:
	case errors.Is(err, errDrift):
		log.Warn(err.Error())
		os.Exit(2)
	default:
		log.WithError(err).Error("Команда завершилась с ошибкой")
		os.Exit(1)
	}
}

// setupLogging настраивает формат логов.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}

// loadConfig загружает конфигурацию и выставляет уровень логирования из неё.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("level", cfg.AppLogLevel).Warn("Неизвестный APP_LOG_LEVEL, оставляем debug")
	}
	return cfg, nil
}
