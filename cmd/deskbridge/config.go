package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/deskbridge/internal/config"
	"github.com/ehrlich-b/deskbridge/internal/logger"
)

// loadConfig reads the config file named by --config (or the optional
// default) and applies --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Root().PersistentFlags()
	path, _ := flags.GetString("config")
	required := path != ""
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, err
	}
	if lvl, _ := flags.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	return cfg, nil
}

func initLogging(cfg *config.Config) (io.Closer, error) {
	return logger.Init(cfg.Logging.Level, config.ExpandHome(cfg.Logging.File))
}
