package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/formwise-ai/advisor/internal/agent/model"
	"github.com/formwise-ai/advisor/internal/core"
	logx "github.com/formwise-ai/advisor/pkg/logger"
	pkgredis "github.com/formwise-ai/advisor/pkg/redis"
	pkgsqlite "github.com/formwise-ai/advisor/pkg/sqlite"
)

// AppConfig defines all configurable parameters of the advisor, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis  pkgredis.Config
	SQLite pkgsqlite.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Triage       model.TriageModelConfig
	Response     model.ResponseModelConfig
	Conversation model.ConversationConfig
	Checkpoint   model.CheckpointConfig

	// HTTP
	HTTPAddr       string        `envconfig:"HTTP_ADDR" default:":8080"`
	RequestTimeout time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"90s"`
}

var rootCmd = &cobra.Command{
	Use:          "advisor",
	Short:        "Business-formation advisor",
	Long:         `Routes founder questions to legal, financial, task and general specialists backed by Gemini, with checkpointed conversations.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "Path of the .env file to load")
}

// loadConfig reads the .env file named by --env-file, then the environment.
func loadConfig(cmd *cobra.Command) (*AppConfig, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}
	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})
	return &cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
