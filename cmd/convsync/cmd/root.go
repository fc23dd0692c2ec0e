package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"convsync/pkg/config"
	"convsync/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

// cfg is the effective config loaded in the persistent pre-run.
var cfg *config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "convsync",
	Short: "Headless sync client for conversation messaging",
	Long: `convsync tails and sends messages in a conversation: it loads history
over REST, follows live create/update/delete events over WebSocket and
keeps an in-memory day-bucketed view in sync.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load(".env")
		path, _ := cmd.Flags().GetString("config")
		cfgPath := config.ResolveConfigPath(path, cmd.Flags().Changed("config"))
		c, _, err := config.LoadEffective(cfgPath)
		if err != nil {
			return err
		}
		cfg = c
		logger.InitWithLevel(cfg.Logging.Level)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringP("config", "c", "./config.yaml", "config file path")
}
