package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hookrelay/hookrelay/internal/security"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an admin API key",
	Long: `Generate a random admin API key.

Put the key in the server's admin_api_key config field (or the
HOOKRELAY_ADMIN_API_KEY environment variable) and pass it to hookctl
with --api-key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := security.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		fmt.Println(key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
