package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"studyhub/internal/config"
)

var (
	cfgPath string
	dbType  string
)

var rootCmd = &cobra.Command{
	Use:   "studyhub",
	Short: "Study assistant API over uploaded course documents",
	Long: `studyhub stores uploaded PDFs and notes, splits them into overlapping
chunks and answers questions, explains concepts and builds flashcards and
quizzes from them with a configurable generative backend.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", envOr("STUDYHUB_CONFIG", "config.json"), "path to JSON or YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbType, "db", envOr("STUDYHUB_DB", "sqlite3"), "database driver (sqlite3 or mysql)")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadConfig reads .env, the config file and installs the process logger.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(config.SetupLogger(cfg.Logging))
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
