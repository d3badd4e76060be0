package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/motion-core/internal/analysis"
	"github.com/nerrad567/motion-core/internal/infrastructure/config"
	"github.com/nerrad567/motion-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/motion-core/internal/motion"
	"github.com/nerrad567/motion-core/internal/playback"
)

// Event channels broadcast by the service.
const (
	EventPlaybackState     = "playback.state"
	EventPlaybackCommand   = "playback.command"
	EventAnalysisCompleted = "analysis.completed"
	EventDeviceState       = "device.state"
)

// defaultStopTimeout bounds the device stop call made by Stop.
const defaultStopTimeout = 2 * time.Second

// Device is a playback sink that can also be stopped and inspected.
type Device interface {
	playback.Sink
	SendStop(ctx context.Context) error
	Name() string
	Ready() bool
}

// detailer is implemented by devices that expose driver-specific status.
type detailer interface {
	Detail() any
}

// Telemetry records metrics. The influxdb client satisfies it.
type Telemetry interface {
	WriteMotionCommand(s influxdb.MotionSample)
	WriteAnalysis(s influxdb.AnalysisSample)
}

// Broadcaster receives service events.
type Broadcaster interface {
	// Broadcast sends payload to everyone listening on channel.
	Broadcast(channel string, payload any)
}

// Logger defines the logging interface for the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps holds the service's collaborators.
type Deps struct {
	Analyzer  *analysis.Analyzer
	Scheduler *playback.Scheduler
	Device    Device

	// Repository stores analyses. Optional; history operations return
	// ErrHistoryDisabled without it.
	Repository analysis.Repository

	// Telemetry is optional.
	Telemetry Telemetry

	// Provider names the text generator in telemetry.
	Provider string

	// HistoryLimit caps list requests. Default: analysis.DefaultListLimit.
	HistoryLimit int

	Logger Logger
}

// DeviceStatus describes the configured device.
type DeviceStatus struct {
	Driver string `json:"driver"`
	Ready  bool   `json:"ready"`
	Detail any    `json:"detail,omitempty"`
}

// RetryStatus is the active analysis retry policy.
type RetryStatus struct {
	Enabled    bool  `json:"enabled"`
	MaxRetries int   `json:"max_retries"`
	BackoffMs  int64 `json:"backoff_ms"`
}

// Status is a snapshot of the whole service.
type Status struct {
	Playback playback.Status `json:"playback"`
	Device   DeviceStatus    `json:"device"`
	Envelope EnvelopeStatus  `json:"envelope"`
	Retry    RetryStatus     `json:"retry"`
}

// EnvelopeStatus is the JSON view of the motion envelope.
type EnvelopeStatus struct {
	MinSpeed         float64 `json:"min_speed"`
	MaxSpeed         float64 `json:"max_speed"`
	StrokeLength     float64 `json:"stroke_length"`
	ExpansionEnabled bool    `json:"expansion_enabled"`
	StepSize         float64 `json:"step_size"`
}

// AnalyzeResult is a stored analysis plus what happened to autoplay.
type AnalyzeResult struct {
	*analysis.Record
	Playing       bool   `json:"playing"`
	PlaybackError string `json:"playback_error,omitempty"`
}

// Service runs analyses and playback against one device.
//
// Thread Safety: all methods are safe for concurrent use.
type Service struct {
	analyzer     *analysis.Analyzer
	scheduler    *playback.Scheduler
	device       Device
	repo         analysis.Repository
	telemetry    Telemetry
	provider     string
	historyLimit int
	stopTimeout  time.Duration
	logger       Logger

	mu           sync.RWMutex
	broadcasters []Broadcaster
}

// New creates a service and subscribes it to the scheduler's events.
//
// Returns:
//   - *Service: Ready to use
//   - error: If the analyzer, scheduler or device is missing
func New(deps Deps) (*Service, error) {
	if deps.Analyzer == nil || deps.Scheduler == nil || deps.Device == nil {
		return nil, fmt.Errorf("control: analyzer, scheduler and device are required")
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = analysis.DefaultListLimit
	}

	s := &Service{
		analyzer:     deps.Analyzer,
		scheduler:    deps.Scheduler,
		device:       deps.Device,
		repo:         deps.Repository,
		telemetry:    deps.Telemetry,
		provider:     deps.Provider,
		historyLimit: deps.HistoryLimit,
		stopTimeout:  defaultStopTimeout,
		logger:       deps.Logger,
	}

	s.scheduler.SetOnCommand(s.handleCommand)
	s.scheduler.SetOnStateChange(func(st playback.Status) {
		s.broadcast(EventPlaybackState, st)
	})
	s.scheduler.SetDeviceReady(s.device.Ready())
	return s, nil
}

// AddBroadcaster registers b for all future events.
func (s *Service) AddBroadcaster(b Broadcaster) {
	s.mu.Lock()
	s.broadcasters = append(s.broadcasters, b)
	s.mu.Unlock()
}

// Analyze turns text into a movement set, stores the outcome and, when
// autoplay is set, starts playing it.
//
// The analysis itself failing returns the stored failed record together
// with an error wrapping analysis.ErrAnalysisFailed. A successful analysis
// whose playback cannot start is not an error: the reason is reported in
// PlaybackError.
func (s *Service) Analyze(ctx context.Context, text string, autoplay bool) (*AnalyzeResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	out, runErr := s.analyzer.Run(ctx, text)
	rec := analysis.NewRecord(uuid.NewString(), text, out, runErr)

	if s.repo != nil {
		// The record is kept even when the caller has gone away.
		if err := s.repo.Create(context.WithoutCancel(ctx), rec); err != nil {
			s.logger.Error("failed to store analysis", "id", rec.ID, "error", err)
		}
	}
	if s.telemetry != nil {
		s.telemetry.WriteAnalysis(influxdb.AnalysisSample{
			Provider:   s.provider,
			Method:     out.Method,
			Attempts:   out.Attempts,
			Success:    runErr == nil,
			Dropped:    out.Dropped,
			DurationMs: out.Duration.Milliseconds(),
			Timestamp:  rec.CreatedAt,
		})
	}
	s.broadcast(EventAnalysisCompleted, rec)

	res := &AnalyzeResult{Record: rec}
	if runErr != nil {
		return res, runErr
	}
	if !autoplay {
		return res, nil
	}

	if err := s.Play(ctx, *rec.Set); err != nil {
		s.logger.Warn("autoplay not started", "id", rec.ID, "error", err)
		res.PlaybackError = err.Error()
		return res, nil
	}
	res.Playing = true
	return res, nil
}

// Play starts set, replacing any active session.
//
// Returns motion.ErrEmptyMovementSet for an empty set and
// playback.ErrDeviceUnavailable when the device is not ready.
func (s *Service) Play(ctx context.Context, set motion.MovementSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.scheduler.Start(set)
}

// PlayAnalysis replays a stored analysis.
func (s *Service) PlayAnalysis(ctx context.Context, id string) (*analysis.Record, error) {
	rec, err := s.Analysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Set == nil || rec.Set.Empty() {
		return rec, ErrNothingToPlay
	}
	if err := s.Play(ctx, *rec.Set); err != nil {
		return rec, err
	}
	return rec, nil
}

// Stop cancels the active session and halts the device. A device that is
// not ready has nothing to halt.
func (s *Service) Stop(ctx context.Context) error {
	s.scheduler.Stop()

	if !s.device.Ready() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.stopTimeout)
	defer cancel()

	if err := s.device.SendStop(ctx); err != nil && !errors.Is(err, playback.ErrDeviceUnavailable) {
		return fmt.Errorf("stopping device: %w", err)
	}
	return nil
}

// DeviceReadyChanged forwards a device readiness change. Losing the device
// stops playback.
func (s *Service) DeviceReadyChanged(ready bool) {
	s.scheduler.SetDeviceReady(ready)
	s.broadcast(EventDeviceState, s.DeviceStatus())
}

// Status returns a snapshot of playback, device and settings.
func (s *Service) Status() Status {
	env := s.scheduler.Envelope()
	cfg := s.analyzer.Config()
	return Status{
		Playback: s.scheduler.Status(),
		Device:   s.DeviceStatus(),
		Envelope: EnvelopeStatus{
			MinSpeed:         env.MinSpeed,
			MaxSpeed:         env.MaxSpeed,
			StrokeLength:     env.StrokeLength,
			ExpansionEnabled: env.ExpansionEnabled,
			StepSize:         env.StepSizePercent,
		},
		Retry: RetryStatus{
			Enabled:    cfg.RetryEnabled,
			MaxRetries: cfg.MaxRetries,
			BackoffMs:  cfg.Backoff.Milliseconds(),
		},
	}
}

// DeviceStatus returns the device's driver, readiness and detail.
func (s *Service) DeviceStatus() DeviceStatus {
	st := DeviceStatus{
		Driver: s.device.Name(),
		Ready:  s.device.Ready(),
	}
	if d, ok := s.device.(detailer); ok {
		st.Detail = d.Detail()
	}
	return st
}

// Analyses lists stored analyses, newest first. limit is capped at the
// configured history limit; zero or less selects it.
func (s *Service) Analyses(ctx context.Context, limit int) ([]analysis.Record, error) {
	if s.repo == nil {
		return nil, ErrHistoryDisabled
	}
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	return s.repo.List(ctx, limit)
}

// Analysis returns one stored analysis.
func (s *Service) Analysis(ctx context.Context, id string) (*analysis.Record, error) {
	if s.repo == nil {
		return nil, ErrHistoryDisabled
	}
	return s.repo.GetByID(ctx, id)
}

// ApplyConfig applies the reloadable settings: the envelope for the next
// session and the retry policy for the next analysis.
func (s *Service) ApplyConfig(cfg *config.Config) {
	s.scheduler.SetEnvelope(cfg.Device.Envelope())
	s.analyzer.SetConfig(AnalysisConfig(cfg.Analysis))
	s.logger.Info("configuration applied",
		"max_speed", cfg.Device.MaxSpeed,
		"min_speed", cfg.Device.MinSpeed,
		"retry_enabled", cfg.Analysis.Retry.Enabled,
		"max_retries", cfg.Analysis.Retry.MaxRetries,
	)
}

// AnalysisConfig converts the analysis section of the configuration.
func AnalysisConfig(cfg config.AnalysisConfig) analysis.Config {
	return analysis.Config{
		RetryEnabled:   cfg.Retry.Enabled,
		MaxRetries:     cfg.Retry.MaxRetries,
		Backoff:        cfg.Retry.Backoff(),
		PromptTemplate: cfg.PromptTemplate,
	}
}

func (s *Service) handleCommand(cmd playback.Command) {
	if s.telemetry != nil {
		s.telemetry.WriteMotionCommand(influxdb.MotionSample{
			Device:     s.device.Name(),
			Phase:      cmd.Phase.String(),
			Position:   cmd.Position,
			DurationMs: cmd.DurationMs,
			SpeedMmS:   cmd.Speed,
			Timestamp:  cmd.Timestamp,
		})
	}
	s.broadcast(EventPlaybackCommand, cmd)
}

func (s *Service) broadcast(channel string, payload any) {
	s.mu.RLock()
	targets := make([]Broadcaster, len(s.broadcasters))
	copy(targets, s.broadcasters)
	s.mu.RUnlock()

	for _, b := range targets {
		b.Broadcast(channel, payload)
	}
}
