// Command client is a terminal client for the chat room.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	clientws "github.com/omochice/socket-room/internal/client/ws"
	"github.com/omochice/socket-room/internal/config"
	"github.com/omochice/socket-room/internal/room"
)

var version = "dev"

type options struct {
	configPath string
	server     string
	username   string
	rejoin     bool
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Chat room terminal client",
		Long: `Connects to a chat room server and joins with a username.

Type a line to send it. Commands:
  /join <name>   join the room
  /who           show who is online
  /quit          leave`,
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringVarP(&opts.server, "server", "s", "", "Server URL (e.g., ws://localhost:8080/ws)")
	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "Join automatically with this username")
	cmd.Flags().BoolVar(&opts.rejoin, "rejoin", false, "Rejoin automatically after a reconnect")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

func loadConfig(cmd *cobra.Command, opts options) (config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("server") {
		cfg.ServerURL = opts.server
	}
	if cmd.Flags().Changed("username") {
		cfg.Username = opts.username
	}
	if cmd.Flags().Changed("rejoin") {
		cfg.AutoRejoin = opts.rejoin
	}
	if opts.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, opts options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	logger := cfg.Logger(cmd.ErrOrStderr())
	transport := clientws.New(cfg.ServerURL, cfg.ClientOptions(), logger)
	session := room.NewSession(transport, cfg.RejoinPolicy(), logger)
	defer session.Close()

	out := newRenderer(cmd.OutOrStdout())
	session.Subscribe(out.Update)
	if cfg.Username != "" {
		username := cfg.Username
		session.Subscribe(func(u room.Update) {
			if u.State == room.StateConnected {
				if err := session.Join(username); err != nil {
					out.Error(err)
				}
			}
		})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	out.Println(statusStyle.Render("connecting to " + cfg.ServerURL))

	return readLoop(ctx, cmd.InOrStdin(), session, out)
}

// chatSession is the part of room.Session the input loop drives.
type chatSession interface {
	Join(identity string) error
	Send(text string) error
	Roster() []string
}

func readLoop(ctx context.Context, in io.Reader, session chatSession, out *renderer) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return nil
		case line := <-lines:
			if quit := handleLine(line, session, out); quit {
				return nil
			}
		}
	}
}

// handleLine runs one input line and reports whether the user asked to quit.
func handleLine(line string, session chatSession, out *renderer) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return false
	case trimmed == "/quit" || trimmed == "/exit":
		return true
	case trimmed == "/who":
		out.Println(renderRoster(session.Roster()))
	case trimmed == "/join" || strings.HasPrefix(trimmed, "/join "):
		if err := session.Join(strings.TrimPrefix(trimmed, "/join")); err != nil {
			out.Error(err)
		}
	default:
		if err := session.Send(line); err != nil {
			out.Error(err)
		}
	}
	return false
}
