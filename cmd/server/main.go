package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/msger/internal/logging"
	"github.com/Tyrowin/msger/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile     string
		banned         []string
		auth           string
		requireProof   bool
		allowFiles     bool
		messageTimeout time.Duration
		ipAddr         string
		port           int
		logLevel       string
		logFormat      string
	)

	cmd := &cobra.Command{
		Use:           "msger-server",
		Short:         "Relay text and files between connected msger clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Only flags given explicitly override the file and environment.
			overrides := map[string]any{}
			flags := cmd.Flags()
			set := func(flag, key string, value any) {
				if flags.Changed(flag) {
					overrides[key] = value
				}
			}
			set("banned", "banned_users", banned)
			set("auth", "auth", auth)
			set("require-proof", "require_proof", requireProof)
			set("allow-files", "allow_files", allowFiles)
			set("message-timeout", "message_timeout", messageTimeout.String())
			set("ipaddr", "ip_addr", ipAddr)
			set("port", "port", port)
			set("log-level", "log_level", logLevel)
			set("log-format", "log_format", logFormat)

			cfg, err := server.LoadConfig(configFile, overrides)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "path to a YAML or TOML config file")
	flags.StringSliceVarP(&banned, "banned", "b", nil, "client IPs that may not connect")
	flags.StringVarP(&auth, "auth", "a", "", "shared secret used to seal the handshake challenge")
	flags.BoolVar(&requireProof, "require-proof", false, "reject clients that cannot prove the shared secret")
	flags.BoolVarP(&allowFiles, "allow-files", "f", true, "allow sending files to the chat")
	flags.DurationVarP(&messageTimeout, "message-timeout", "t", 5*time.Second, "window within which a client may send at most five messages")
	flags.StringVarP(&ipAddr, "ipaddr", "i", "127.0.0.1", "IP address to bind")
	flags.IntVarP(&port, "port", "p", 2004, "port to bind")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")

	return cmd
}

func run(ctx context.Context, cfg *server.Config, logger *slog.Logger) error {
	logger.Info("starting msger server", "addr", cfg.Addr(), "files", cfg.AllowFiles, "secret", cfg.SharedSecret != "")

	srv := server.New(cfg, logger)
	if err := srv.ListenAndServe(ctx, shutdownTimeout); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
