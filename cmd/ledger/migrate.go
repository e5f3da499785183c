package main

import (
	"github.com/spf13/cobra"

	"serotonyl.ru/credit-ledger/internal/db/postgres"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Применить миграции схемы и выйти",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return postgres.RunMigrations(cfg.MigrateDSN())
	},
}
