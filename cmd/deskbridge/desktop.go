package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/deskbridge/internal/desktop"
	"github.com/ehrlich-b/deskbridge/internal/logger"
)

func desktopCmd() *cobra.Command {
	var socketFlag string
	var apisFlag []string

	cmd := &cobra.Command{
		Use:   "desktop",
		Short: "Run a desktop companion that prints events from the bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if socketFlag != "" {
				cfg.Desktop.Socket = socketFlag
			}
			closer, err := initLogging(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := json.NewEncoder(cmd.OutOrStdout())
			c := &desktop.Client{
				SocketPath: cfg.Desktop.Socket,
				APIs:       apisFlag,
				OnEvent: func(m desktop.Outbound) {
					out.Encode(m)
				},
				OnStateChange: func(state string, err error) {
					logger.Log.Debug("bridge connection", "state", state, "err", err)
				},
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "connecting to %s\n", cfg.Desktop.Socket)
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&socketFlag, "socket", "", "bridge socket path")
	cmd.Flags().StringSliceVar(&apisFlag, "apis", []string{desktop.EventOpenElement}, "APIs to announce")

	return cmd
}
