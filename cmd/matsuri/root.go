package main

import (
	"fmt"
	"os"

	"github.com/harunnryd/matsuri/internal/config"
	"github.com/harunnryd/matsuri/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "matsuri",
	Short: "Matsuri event digest",
	Long:  `Matsuri turns noisy chat channels into a digest of upcoming events that match your interests and availability.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Log.Level)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.matsuri/config.yaml)")
	rootCmd.PersistentFlags().String("log.level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("data.dir", "", "data directory for caches and the message archive")
}
