// Command solemate runs the SoleMate customer support agent.
//
// Usage:
//
//	export GROQ_API_KEY="your-api-key"
//	solemate seed fixtures/solemate.yaml
//	solemate serve
//	solemate chat
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nstogner/solemate/pkg/config"
)

var version = "0.1.0"

var (
	configPath string
	envFile    string
	logFile    string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "solemate",
	Short: "SoleMate - customer support agent for a footwear shop",
	Long: `solemate answers customer questions about orders and store policies,
recommends products and issues return authorizations after the customer
confirms.

Examples:
  solemate seed fixtures/solemate.yaml   # load sample orders and policies
  solemate serve                         # HTTP and websocket API
  solemate chat --thread my-thread       # terminal chat`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		path, err := config.FindConfig(configPath)
		if err != nil {
			return err
		}
		if cfg, err = config.Load(path); err != nil {
			return err
		}
		return setupLogging(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(seedCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search solemate.yaml, ~/.config/solemate/config.yaml, /etc/solemate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
}

// setupLogging installs the default slog logger. The chat command always
// logs to a file so records do not garble the terminal UI.
func setupLogging(cmd *cobra.Command) error {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	path := logFile
	if path == "" && cmd.Name() == chatCmd.Name() {
		path = "solemate.log"
	}
	var w io.Writer = os.Stderr
	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
	}

	slog.SetDefault(config.NewLogger(w, level))
	slog.Debug("Logging initialized", "level", level)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
