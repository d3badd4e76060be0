package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/motion-core/internal/analysis"
	"github.com/nerrad567/motion-core/internal/control"
	"github.com/nerrad567/motion-core/internal/infrastructure/config"
	"github.com/nerrad567/motion-core/internal/infrastructure/logging"
	"github.com/nerrad567/motion-core/internal/llm"
	"github.com/nerrad567/motion-core/internal/motion"
	"github.com/nerrad567/motion-core/internal/playback"
	"github.com/nerrad567/motion-core/internal/simulator"
)

// stdinPath reads input from standard input.
const stdinPath = "-"

// barWidth is the width of the simulator gauge.
const barWidth = 40

// cliLogger logs to stderr: warnings only, or everything with --verbose.
func cliLogger(opts *options) *logging.Logger {
	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	return logging.New(config.LoggingConfig{Level: level, Format: "text", Output: "stderr"}, version)
}

// readInput returns the contents of path, or of stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == stdinPath {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path) //nolint:gosec // path is a command-line argument
}

// readMovementSet decodes a {"start":[...],"loop":[...]} file.
func readMovementSet(cmd *cobra.Command, path string) (motion.MovementSet, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return motion.MovementSet{}, fmt.Errorf("reading movement set: %w", err)
	}
	var set motion.MovementSet
	if err := json.Unmarshal(data, &set); err != nil {
		return motion.MovementSet{}, fmt.Errorf("decoding movement set: %w", err)
	}
	if err := set.Validate(); err != nil {
		return motion.MovementSet{}, err
	}
	return set, nil
}

// ============================================================================
// analyze
// ============================================================================

func newAnalyzeCmd(opts *options) *cobra.Command {
	var (
		file    string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [text...]",
		Short: "Generate a movement set for text and print its plan",
		Long: `Runs the configured text generator on the given text, extracts the
movement set from its reply (retrying per analysis.retry) and prints the
schedule it would play. Nothing is stored.

Example:
  motioncore analyze "a slow wave building to a fast finish"
  motioncore analyze --file story.txt --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if file != "" {
				data, err := readInput(cmd, file)
				if err != nil {
					return fmt.Errorf("reading input: %w", err)
				}
				text = string(data)
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("no text given: pass it as arguments or with --file")
			}
			return runAnalyze(cmd, opts, text, jsonOut)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", `Read the text from a file ("-" for stdin)`)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print only the movement set as JSON")
	return cmd
}

func runAnalyze(cmd *cobra.Command, opts *options, text string, jsonOut bool) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	log := cliLogger(opts)

	gen, err := llm.New(cmd.Context(), llmConfig(cfg.LLM))
	if err != nil {
		return fmt.Errorf("creating text generator: %w", err)
	}
	analyzer := analysis.NewAnalyzer(gen, control.AnalysisConfig(cfg.Analysis), log)

	out, err := analyzer.Run(cmd.Context(), text)
	if err != nil {
		if out != nil && out.Response != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "last response:\n%s\n", out.Response)
		}
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Set)
	}

	fmt.Fprintf(w, "generator %s: %d attempt(s), %s extraction, %d token(s) dropped, %s\n\n",
		gen.Name(), out.Attempts, out.Method, out.Dropped, out.Duration.Round(time.Millisecond))
	return renderPlan(w, cfg.Device.InitialPosition, *out.Set, cfg.Device.Envelope())
}

// ============================================================================
// plan
// ============================================================================

func newPlanCmd(opts *options) *cobra.Command {
	var from float64
	cmd := &cobra.Command{
		Use:   "plan <movement-set.json>",
		Short: "Print the governed, expanded schedule of a movement set",
		Long: `Reads a movement set ({"start":["delayMs,pos",...],"loop":[...]}) and
prints every segment as it would be dispatched: slow moves expanded,
durations governed to the configured speed envelope, and one loop cycle.

Example:
  motioncore plan set.json --from 0
  cat set.json | motioncore plan -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			set, err := readMovementSet(cmd, args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("from") {
				from = cfg.Device.InitialPosition
			}
			return renderPlan(cmd.OutOrStdout(), from, set, cfg.Device.Envelope())
		},
	}
	cmd.Flags().Float64Var(&from, "from", playback.DefaultInitialPosition, "Starting position in percent (default: device.initial_position)")
	return cmd
}

// ============================================================================
// simulate
// ============================================================================

func newSimulateCmd(opts *options) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "simulate <movement-set.json>",
		Short: "Play a movement set on the simulated actuator",
		Long: `Plays a movement set through the real scheduler against the in-process
simulator and prints the rod position for every dispatched command. A set
with a loop plays until --duration elapses or the command is interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			set, err := readMovementSet(cmd, args[0])
			if err != nil {
				return err
			}
			return runSimulate(cmd.Context(), cmd.OutOrStdout(), cfg, set, duration, cliLogger(opts))
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "Stop looping after this long")
	return cmd
}

// runSimulate plays set on a simulator until it finishes, duration elapses
// or ctx is cancelled, printing one line per command.
func runSimulate(ctx context.Context, w io.Writer, cfg *config.Config, set motion.MovementSet, duration time.Duration, log *logging.Logger) error {
	dev := simulator.New(cfg.Device.StrokeLength, log)
	scheduler := playback.NewScheduler(dev, playback.Config{Envelope: cfg.Device.Envelope()}, log)
	scheduler.SetPosition(cfg.Device.InitialPosition)

	var (
		mu       sync.Mutex
		stopped  bool
		finished = make(chan struct{})
		once     sync.Once
	)
	scheduler.SetOnCommand(func(c playback.Command) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		fmt.Fprintf(w, "%-5s %6dms %s\n", c.Phase, c.DurationMs, dev.State().Bar(barWidth))
	})
	scheduler.SetOnStateChange(func(st playback.Status) {
		if st.SessionID == 0 {
			once.Do(func() { close(finished) })
		}
	})

	if err := scheduler.Start(set); err != nil {
		return fmt.Errorf("starting playback: %w", err)
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
	case <-ctx.Done():
	}
	scheduler.Stop()

	mu.Lock()
	defer mu.Unlock()
	stopped = true
	st := dev.State()
	_, err := fmt.Fprintf(w, "done: %d command(s), rod at %.1f%%\n", st.Commands, st.Position*100)
	return err
}
