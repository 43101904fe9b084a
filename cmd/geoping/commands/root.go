package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/geoping/geoping/cmd/geoping/internal/config"
	"github.com/geoping/geoping/pkg/kv"
)

var (
	// Global flags
	verbose bool
	cfgDir  string
	server  string

	globalConfig  *config.Config
	configLoadErr error
)

var rootCmd = &cobra.Command{
	Use:   "geoping",
	Short: "Wi-Fi presence detection and room messaging",
	Long: `geoping - detect which room you are in from Wi-Fi fingerprints and
open the room's messaging channel while you are there.

Rooms, subscriptions, and credentials are stored locally (badger database
in the OS config directory). The presence monitor scans periodically,
classifies each subscribed room (local signal thresholds or the server's
trained model), and joins or leaves the room's channel on transitions.

Examples:
  # Point at the backend and log in
  geoping --server http://10.0.0.2:3000 login ana

  # Register rooms and subscribe
  geoping rooms add office --ssid OfficeNet
  geoping rooms subscribe <room-id>

  # Run the presence monitor on a recorded scan trace
  geoping monitor --replay scans.ndjson --policy local

  # Collect training data and train the server model
  geoping collect office --replay scans.ndjson --count 30
  geoping train office`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgDir, "config", "", "config directory (default: OS config dir)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "backend server URL (overrides config)")
}

func initConfig() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	var err error
	if cfgDir != "" {
		globalConfig, err = config.LoadFrom(cfgDir)
	} else {
		globalConfig, err = config.Load()
	}
	if err != nil {
		configLoadErr = err
	}
}

// GetConfig returns the loaded configuration.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		return nil, fmt.Errorf("config not initialized")
	}
	return globalConfig, nil
}

// openKV opens the badger database under the configured data directory.
// The caller owns the returned store and must Close it.
func openKV() (kv.Store, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	dir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return kv.NewBadger(kv.BadgerOptions{Dir: dir})
}

// resolveEndpoint returns the backend URL: the --server flag wins, then the
// config file, then the last-used endpoint persisted in the store.
func resolveEndpoint(ctx context.Context, settings interface {
	Endpoint(context.Context) (string, error)
	SetEndpoint(context.Context, string) error
}) (string, error) {
	if server != "" {
		if err := settings.SetEndpoint(ctx, server); err != nil {
			slog.Warn("endpoint not persisted", "error", err)
		}
		return server, nil
	}
	cfg, err := GetConfig()
	if err == nil && cfg.Endpoint != "" {
		return cfg.Endpoint, nil
	}
	saved, err := settings.Endpoint(ctx)
	if err != nil {
		return "", err
	}
	if saved == "" {
		return "", fmt.Errorf("no server configured: pass --server or set endpoint in config.yaml")
	}
	return saved, nil
}
