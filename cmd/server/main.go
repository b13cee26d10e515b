// Command server runs the reference chat room server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/omochice/socket-room/internal/chat"
	"github.com/omochice/socket-room/internal/config"
	"github.com/omochice/socket-room/internal/transport/ws"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Chat room server",
		Long:         "Accepts WebSocket connections on " + ws.Path + " and relays room events between them.",
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listen
			}
			if verbose {
				cfg.LogLevel = "debug"
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := cfg.Logger(cmd.ErrOrStderr())
			hub := chat.NewHub(logger)
			srv := ws.New(cfg.ListenAddr, hub, cfg.ServerOptions(), logger)
			if err := srv.Start(); err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			select {
			case sig := <-sigChan:
				logger.Info("shutting down", "signal", sig.String())
			case <-cmd.Context().Done():
			}
			srv.Stop()
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringVarP(&listen, "listen", "l", ":8080", "Address to listen on (e.g., :8080)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}
