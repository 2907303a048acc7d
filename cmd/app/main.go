package main

import (
	"fmt"
	"os"

	"RegimeWatch/pkg/config"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "regimewatch",
	Short: "Stablecoin yield regime classifier",
	Long: `RegimeWatch classifies the daily stablecoin yield index into a
risk regime (NEU, ON, OFF, OFF_OVERRIDE) and notifies on confirmed changes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "config file path")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
