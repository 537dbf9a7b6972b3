package cmd

import (
	"fmt"
	"time"

	"github.com/frahmantamala/stay-payments/internal/auth"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Mint an access token for local testing",
	Long:  `Sign an access token with the configured secret so the API can be exercised without the session service.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if config.Env == "production" {
			return fmt.Errorf("refusing to mint tokens in production")
		}

		generator := auth.NewJWTTokenGenerator(config.Security.JWTSecret)
		generator.AccessTokenTTL = tokenTTL
		token, err := generator.GenerateAccessToken(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var tokenTTL time.Duration

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")

	rootCmd.AddCommand(tokenCmd)
}
