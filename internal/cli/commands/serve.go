package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aki/remux/internal/app"
	"github.com/aki/remux/internal/cli/ui"
	"github.com/aki/remux/internal/config"
	"github.com/aki/remux/internal/logger"
	"github.com/aki/remux/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the evaluation server",
	Long: `Start the server and accept client connections. Each connection gets
its own session speaking the tagged message protocol.`,
	RunE: runServe,
}

var (
	serveAddr      string
	serveConfig    string
	serveMCP       bool
	serveLogLevel  string
	serveLogFormat string
)

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (host:port or unix:/path/to.sock)")
	serveCmd.Flags().StringVarP(&serveConfig, "config", "c", "", "Path to a configuration file")
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "Also serve administrative tools over stdio")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "", "Log format (text, json)")
}

// loadServeConfig resolves the effective configuration: defaults, then
// the global file under homeDir, then --config, then flag overrides.
func loadServeConfig(homeDir string) (*config.Config, error) {
	cfg, err := config.NewLoader(homeDir).Load(serveConfig)
	if err != nil {
		return nil, err
	}

	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveLogLevel != "" {
		cfg.Log.Level = serveLogLevel
	}
	if serveLogFormat != "" {
		cfg.Log.Format = serveLogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	home, _ := os.UserHomeDir()
	cfg, err := loadServeConfig(home)
	if err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	log := logger.New(logger.WithLevel(level), logger.WithFormat(logger.Format(cfg.Log.Format)))

	container, err := app.NewContainer(cfg, log)
	if err != nil {
		return err
	}
	defer container.Close()

	if err := container.Server.Listen(); err != nil {
		if errors.Is(err, server.ErrLocked) {
			return fmt.Errorf("%s is already served by another remux: %w", cfg.Server.Addr, err)
		}
		return err
	}

	// Handle shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		serveInfo("Shutting down...")
		cancel()
	}()

	if serveMCP {
		// With stdio claimed by the admin protocol, human output must
		// stay on stderr.
		go func() {
			if err := container.MCP.Start(); err != nil {
				log.Error("admin channel failed", "error", err)
			}
		}()
	}

	serveInfo("Listening on %s", container.Server.Addr())
	if err := container.Server.Serve(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	serveInfo("Server stopped")
	return nil
}

func serveInfo(format string, args ...interface{}) {
	if serveMCP {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
		return
	}
	ui.Info(format, args...)
}
