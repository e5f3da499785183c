package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"serotonyl.ru/credit-ledger/internal/app"
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Один раз сверить балансы с журналом транзакций",
	Long: `Сверяет каждую запись balances с суммой транзакций пользователя.
Расхождения пишутся в лог и отправляются алертом. Данные не исправляются.
Код выхода 2, если найдены расхождения.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		application, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer application.Close()

		report, err := application.Reconcile.Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Проверено балансов: %d, расхождений: %d\n", report.Checked, len(report.Drifts))
		for _, d := range report.Drifts {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s: balance=%d earned=%d spent=%d journal=%d\n",
				d.UserID, d.Balance, d.TotalEarned, d.TotalSpent, d.JournalSum)
		}
		if len(report.Drifts) > 0 {
			return errDrift
		}
		return nil
	},
}
