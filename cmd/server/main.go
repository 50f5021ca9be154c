package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workflow-assistant/backend/internal/config"
	"workflow-assistant/backend/internal/logging"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	envFile string
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Workflow assistant backend",
	Long: `Workflow assistant routes chat messages to trigger-matched workflows,
lets a language model pick a tool for each request and runs it against
Notion or MCP capability providers.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to .env file")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or ./config/config.yaml)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API, chat bots and background workers",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the database schema",
			RunE:  runMigrate,
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Delete expired conversation state once and exit",
			RunE:  runSweep,
		},
		&cobra.Command{
			Use:   "mcp",
			Short: "Serve the assistant as an MCP server over stdio",
			RunE:  runMCPStdio,
		},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads configuration and builds the logger it asks for.
func loadConfig() (*config.Config, *logging.Logger, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"db_driver", cfg.DB.Driver,
		"llm_model", cfg.LLM.Model,
		"llm_api_key", logging.RedactValue(cfg.LLM.APIKey),
		"notion_api_key", logging.RedactValue(cfg.Notion.APIKey),
		"okta_domain", cfg.Auth.OktaDomain,
		"config_file", viper.ConfigFileUsed(),
	)
	return cfg, logger, nil
}
