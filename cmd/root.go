package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "concept-runner",
	Short: "Research concept pipeline: idea to published article",
	Long: `concept-runner turns a research idea into an evidence-backed article.

It plans search queries, collects candidate sources from PubMed and the
web, retrieves full text into shared caches, analyzes every source, and
tracks the concept through draft and publication.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
