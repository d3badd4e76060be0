package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"

	"github.com/nerrad567/motion-core/internal/extract"
	"github.com/nerrad567/motion-core/internal/motion"
)

// Default retry settings.
const (
	DefaultMaxRetries = 3
	DefaultBackoff    = time.Second
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Logger defines the logging interface for the analyzer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config controls retries and prompting.
type Config struct {
	RetryEnabled bool
	// MaxRetries is the number of extra attempts after the first.
	MaxRetries int
	// Backoff is the fixed wait between attempts.
	Backoff time.Duration
	// PromptTemplate overrides DefaultPromptTemplate when set.
	PromptTemplate string
}

// DefaultConfig returns retry enabled with three retries one second apart.
func DefaultConfig() Config {
	return Config{
		RetryEnabled: true,
		MaxRetries:   DefaultMaxRetries,
		Backoff:      DefaultBackoff,
	}
}

// MaxAttempts returns the total number of attempts the config allows.
func (c Config) MaxAttempts() int {
	if !c.RetryEnabled || c.MaxRetries <= 0 {
		return 1
	}
	return 1 + c.MaxRetries
}

// Outcome describes a finished analysis, successful or not.
type Outcome struct {
	Set *motion.MovementSet
	// Attempts is the number of attempts made.
	Attempts int
	// Response is the raw generator text of the last attempt.
	Response string
	// Object is the extracted JSON object of the successful attempt.
	Object string
	// Method is the extraction strategy that found Object.
	Method string
	// Dropped counts malformed tokens discarded while parsing.
	Dropped  int
	Duration time.Duration
}

// Analyzer runs the generate, extract, validate pipeline with retries.
//
// Thread Safety: Analyze is safe for concurrent use; SetConfig affects
// analyses started afterwards.
type Analyzer struct {
	gen    Generator
	logger Logger

	mu  sync.RWMutex
	cfg Config
}

// NewAnalyzer creates an analyzer using gen.
func NewAnalyzer(gen Generator, cfg Config, logger Logger) *Analyzer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Analyzer{gen: gen, cfg: cfg, logger: logger}
}

// SetConfig replaces the retry and prompt settings.
func (a *Analyzer) SetConfig(cfg Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

// Config returns the current settings.
func (a *Analyzer) Config() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Analyze returns the movement set described by the generator's reply to
// text, or nil and an error wrapping ErrAnalysisFailed once every attempt
// has failed. A nil set must be treated as "no playback".
func (a *Analyzer) Analyze(ctx context.Context, text string) (*motion.MovementSet, error) {
	out, err := a.Run(ctx, text)
	if err != nil {
		return nil, err
	}
	return out.Set, nil
}

// Run is Analyze with attempt details. The returned Outcome is never nil.
func (a *Analyzer) Run(ctx context.Context, text string) (*Outcome, error) {
	cfg := a.Config()
	prompt := BuildPrompt(cfg.PromptTemplate, text)
	maxAttempts := cfg.MaxAttempts()

	out := &Outcome{}
	began := time.Now()

	operation := func() (*motion.MovementSet, error) {
		out.Attempts++
		att, err := a.attempt(ctx, prompt)
		out.Response = att.response
		if err != nil {
			a.logger.Warn("analysis attempt failed",
				"attempt", out.Attempts,
				"max_attempts", maxAttempts,
				"error", err,
			)
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		out.Object = att.object
		out.Method = att.method
		out.Dropped = att.dropped
		return att.set, nil
	}

	set, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(cfg.Backoff)),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			a.logger.Debug("retrying analysis", "wait", wait, "error", err)
		}),
	)
	out.Duration = time.Since(began)

	if err != nil {
		a.logger.Error("analysis failed", "attempts", out.Attempts, "error", err)
		return out, fmt.Errorf("%w after %d attempt(s): %w", ErrAnalysisFailed, out.Attempts, err)
	}

	out.Set = set
	a.logger.Info("analysis succeeded",
		"attempts", out.Attempts,
		"method", out.Method,
		"start_movements", len(set.Start),
		"loop_movements", len(set.Loop),
		"dropped_tokens", out.Dropped,
		"duration", out.Duration,
	)
	return out, nil
}

type attemptResult struct {
	set      *motion.MovementSet
	response string
	object   string
	method   string
	dropped  int
}

// attempt runs one pass of the pipeline.
func (a *Analyzer) attempt(ctx context.Context, prompt string) (res attemptResult, err error) {
	response, err := a.generate(ctx, prompt)
	res.response = response
	if err != nil {
		return res, err
	}
	if strings.TrimSpace(response) == "" {
		return res, ErrEmptyResponse
	}

	found := extract.Extract(response)
	if !found.Success {
		return res, fmt.Errorf("%w: %w", ErrNoObject, found.Err)
	}

	start := gjson.Get(found.Object, "start")
	loop := gjson.Get(found.Object, "loop")
	if !start.IsArray() || !loop.IsArray() {
		return res, fmt.Errorf("%w: got start=%s loop=%s", ErrSchema, typeName(start), typeName(loop))
	}

	startSet, droppedStart := motion.ParseTokens(tokenStrings(start))
	loopSet, droppedLoop := motion.ParseTokens(tokenStrings(loop))

	res.set = &motion.MovementSet{Start: startSet, Loop: loopSet}
	res.object = found.Object
	res.method = found.Method
	res.dropped = droppedStart + droppedLoop
	return res, nil
}

// generate calls the generator, converting a panic into an attempt error.
func (a *Analyzer) generate(ctx context.Context, prompt string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrGeneration, r)
		}
	}()

	if a.gen == nil {
		return "", fmt.Errorf("%w: no generator configured", ErrGeneration)
	}
	text, err = a.gen.Generate(ctx, prompt)
	if err != nil {
		return text, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return text, nil
}

// tokenStrings returns each array element as a token. Non-string elements
// keep their raw JSON and fail token parsing downstream.
func tokenStrings(arr gjson.Result) []string {
	items := arr.Array()
	out := make([]string, len(items))
	for i, item := range items {
		if item.Type == gjson.String {
			out[i] = item.String()
		} else {
			out[i] = item.Raw
		}
	}
	return out
}

func typeName(r gjson.Result) string {
	switch {
	case !r.Exists():
		return "missing"
	case r.IsArray():
		return "array"
	case r.IsObject():
		return "object"
	default:
		return r.Type.String()
	}
}
