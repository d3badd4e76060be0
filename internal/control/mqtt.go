package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/motion-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/motion-core/internal/motion"
)

// Remote command names, the last segment of {prefix}/command/{name}.
const (
	CommandAnalyze = "analyze"
	CommandPlay    = "play"
	CommandStop    = "stop"
)

// defaultAnalyzeTimeout bounds an analysis started over MQTT.
const defaultAnalyzeTimeout = 5 * time.Minute

// MQTTClient is the subset of the MQTT client the handler needs.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	PublishJSON(topic string, v any, retained bool) error
	Topics() mqtt.Topics
}

// AnalyzeRequest is the payload of the analyze command.
type AnalyzeRequest struct {
	Text     string `json:"text"`
	Autoplay bool   `json:"autoplay"`
}

// PlayRequest is the payload of the play command: either a stored analysis
// ID or an inline movement set.
type PlayRequest struct {
	AnalysisID string
	Set        motion.MovementSet
}

// UnmarshalJSON decodes the analysis ID and the inline set from one object.
func (r *PlayRequest) UnmarshalJSON(data []byte) error {
	var head struct {
		AnalysisID string `json:"analysis_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	r.AnalysisID = head.AnalysisID
	return r.Set.UnmarshalJSON(data)
}

// MQTTHandler accepts remote commands on {prefix}/command/+ and publishes
// playback state (retained) and analysis results.
//
// Analyses run in their own goroutine so that a slow generator does not hold
// up stop commands; Close waits for them.
type MQTTHandler struct {
	svc            *Service
	client         MQTTClient
	topics         mqtt.Topics
	logger         Logger
	analyzeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMQTTHandler creates a handler for svc publishing through client.
func NewMQTTHandler(svc *Service, client MQTTClient, logger Logger) *MQTTHandler {
	if logger == nil {
		logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MQTTHandler{
		svc:            svc,
		client:         client,
		topics:         client.Topics(),
		logger:         logger,
		analyzeTimeout: defaultAnalyzeTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start subscribes to the command topics, registers the handler as a
// broadcaster and publishes the current playback state.
func (h *MQTTHandler) Start() error {
	if err := h.client.Subscribe(h.topics.AllCommands(), 1, h.handle); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	h.svc.AddBroadcaster(h)
	h.Broadcast(EventPlaybackState, h.svc.Status().Playback)
	h.logger.Info("mqtt control started", "topic", h.topics.AllCommands())
	return nil
}

// Close cancels running analyses and waits for them.
func (h *MQTTHandler) Close() {
	h.cancel()
	h.wg.Wait()
}

// Broadcast publishes service events to MQTT. Playback commands are not
// forwarded; they are too frequent for the bus.
func (h *MQTTHandler) Broadcast(channel string, payload any) {
	var (
		topic    string
		retained bool
	)
	switch channel {
	case EventPlaybackState:
		topic, retained = h.topics.PlaybackState(), true
	case EventAnalysisCompleted:
		topic = h.topics.AnalysisCompleted()
	default:
		return
	}
	if err := h.client.PublishJSON(topic, payload, retained); err != nil {
		h.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

// handle dispatches one command message.
func (h *MQTTHandler) handle(topic string, payload []byte) error {
	name := h.topics.CommandName(topic)
	h.logger.Debug("mqtt command received", "command", name)

	switch name {
	case CommandAnalyze:
		var req AnalyzeRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if req.Text == "" {
			return ErrEmptyInput
		}
		h.wg.Add(1)
		go h.analyze(req)
		return nil

	case CommandPlay:
		var req PlayRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if req.AnalysisID != "" {
			_, err := h.svc.PlayAnalysis(h.ctx, req.AnalysisID)
			return err
		}
		return h.svc.Play(h.ctx, req.Set)

	case CommandStop:
		return h.svc.Stop(h.ctx)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

func (h *MQTTHandler) analyze(req AnalyzeRequest) {
	defer h.wg.Done()

	ctx, cancel := context.WithTimeout(h.ctx, h.analyzeTimeout)
	defer cancel()

	// The result reaches subscribers through the analysis.completed event.
	if _, err := h.svc.Analyze(ctx, req.Text, req.Autoplay); err != nil {
		h.logger.Warn("mqtt analysis failed", "error", err)
	}
}
