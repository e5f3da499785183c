package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"serotonyl.ru/credit-ledger/internal/security"
)

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [TOKEN]",
	Short: "Сгенерировать Argon2id-хеш токена для SERVICE_TOKEN_HASH / ADMIN_TOKEN_HASH",
	Long: `Без аргумента токен читается из первой строки stdin,
чтобы он не попадал в историю shell.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := readToken(cmd, args)
		if err != nil {
			return err
		}

		hash, err := security.HashToken(token)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func readToken(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	token := strings.TrimSpace(line)
	if token == "" {
		if err != nil {
			return "", fmt.Errorf("токен не передан: %w", err)
		}
		return "", fmt.Errorf("токен не передан")
	}
	return token, nil
}
