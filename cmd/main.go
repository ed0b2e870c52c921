// Command novelai runs the writing-assistant backend and a small set of
// client tools for it.
//
// CLI Usage:
//
//	novelai serve [--addr :8080]
//	  Starts the HTTP server exposing POST /api/generate, GET /commands
//	  and GET /status.
//
//	novelai prompt <command> [text] [--context ...] [--instruction ...] [--output yaml|json]
//	  Renders the system and user messages a command would send to the
//	  model, without calling it.
//
//	novelai commands [--server URL]
//	  Lists the commands and the fields each one requires.
//
//	novelai edit <file> --command improve [--from N --to M] [--mode replace|insert|discard]
//	  Runs one command against a running server and applies the result to
//	  the file.
//
// Environment Variables:
//   - OPENAI_API_KEY: credential for the completion backend
//   - OPENAI_BASE_URL: base URL of an OpenAI-compatible API
//   - OPENAI_MODEL: model name (default gpt-4o-mini)
//   - KV_REST_API_URL, KV_REST_API_TOKEN: Upstash Redis REST store for rate limiting
//   - RATE_LIMIT_STORE: upstash, memory or disabled
//   - RATE_LIMIT_MAX, RATE_LIMIT_WINDOW: requests per identity per window
//   - LISTEN_ADDR: server listen address
//   - LOG_LEVEL: logrus level name
//
// A .env file in the working directory or any parent is loaded first.
package main

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"novel-ai-proxy/internal/llm"
	"novel-ai-proxy/pkg/utils"
)

// loadEnvFile loads environment variables from a .env file if present.
// It attempts to load from the current directory and parent directories
// up to the root directory.
func loadEnvFile() {
	if err := godotenv.Load(); err == nil {
		logrus.Debug("loaded environment variables from .env in current directory")
		return
	}

	workDir, err := os.Getwd()
	if err != nil {
		logrus.WithError(err).Warn("could not determine current directory")
		return
	}

	for dir := workDir; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			logrus.WithField("path", envPath).Debug("loaded environment variables")
			return
		}
	}

	logrus.Debug("no .env file found, using existing environment variables")
}

// rootOptions holds the persistent flags shared by all subcommands.
type rootOptions struct {
	configPath string
	logLevel   string
}

// config loads the configuration and a logger at the configured level.
// Without --config the process-wide configuration is used.
func (o *rootOptions) config() (*llm.Config, *logrus.Logger, error) {
	var (
		cfg *llm.Config
		err error
	)
	if o.configPath == "" {
		cfg, err = llm.GetConfig()
	} else {
		cfg, err = llm.LoadConfig(o.configPath)
	}
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Server.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	return cfg, utils.NewLogger(level, os.Stderr), nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "novelai",
		Short: "AI writing assistant backend and tools",
		Long: `novelai proxies text-transformation commands for a novel-writing editor
to an OpenAI-compatible completion API, with per-client daily throttling.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.toml (default: $NOVELAI_CONFIG or the user config dir)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	root.AddCommand(
		newServeCmd(opts),
		newPromptCmd(),
		newCommandsCmd(),
		newEditCmd(opts),
	)
	return root
}

func main() {
	loadEnvFile()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
