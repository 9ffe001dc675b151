package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/deskbridge/internal/app"
	"github.com/ehrlich-b/deskbridge/internal/logger"
)

func serveCmd() *cobra.Command {
	var hostFlag string
	var portFlag int
	var backendFlag string
	var socketFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.WS.Host = hostFlag
			}
			if cmd.Flags().Changed("port") {
				cfg.WS.Port = portFlag
			}
			if backendFlag != "" {
				cfg.Backend.URL = backendFlag
			}
			if socketFlag != "" {
				cfg.Desktop.Socket = socketFlag
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			closer, err := initLogging(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Log.Info("deskbridge starting", "version", version, "ws", cfg.Referrer(), "backend", cfg.BackendBase(), "socket", cfg.Desktop.Socket)
			err = app.New(cfg, app.Options{}).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&hostFlag, "host", "", "WebSocket listen host")
	cmd.Flags().IntVar(&portFlag, "port", 0, "WebSocket listen port")
	cmd.Flags().StringVar(&backendFlag, "backend", "", "backend base URL")
	cmd.Flags().StringVar(&socketFlag, "socket", "", "desktop companion socket path")

	return cmd
}
