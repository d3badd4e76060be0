// Motion Core - linear actuator playback engine
//
// This is the main entry point for the motioncore binary. Without a
// subcommand it runs the full service (serve). The other commands are
// one-shot tools for working with movement sets offline:
//
//	motioncore analyze "text"     generate, extract and print a movement set
//	motioncore plan set.json      print the governed, expanded schedule
//	motioncore simulate set.json  play a set on the simulated actuator
//	motioncore migrate [up|down|status]
//	motioncore version
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/motion-core/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when neither --config nor MOTIONCORE_CONFIG is set.
	defaultConfigPath = "configs/config.yaml"

	// configEnvVar names the environment variable holding the config path.
	configEnvVar = "MOTIONCORE_CONFIG"
)

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	verbose    bool
}

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root command is the same
// as running serve.
func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "motioncore",
		Short: "Motion Core - linear actuator playback engine",
		Long: `Motion Core turns text into timed movement sets and plays them on a
linear actuator through Intiface, MQTT or a built-in simulator.

Run without arguments to start the service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to config.yaml (default: $"+configEnvVar+" or "+defaultConfigPath+")")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"Log debug output to stderr in one-shot commands")

	root.AddCommand(
		newServeCmd(opts),
		newAnalyzeCmd(opts),
		newPlanCmd(opts),
		newSimulateCmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the playback service with its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "motioncore %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// getConfigPath returns the configuration file path.
// The flag wins over MOTIONCORE_CONFIG, which wins over the default.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads the configuration and returns it with the file it came
// from. A missing default file is not an error: built-in defaults and
// environment overrides are used and the returned path is empty, so
// nothing is watched.
//
// Parameters:
//   - flag: Value of --config
//
// Returns:
//   - *config.Config: Validated configuration
//   - string: The file that was loaded, or "" for defaults only
//   - error: If an explicitly named file is missing or the config is invalid
func loadConfig(flag string) (*config.Config, string, error) {
	path := getConfigPath(flag)
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}
