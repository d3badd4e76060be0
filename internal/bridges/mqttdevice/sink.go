// Package mqttdevice drives an actuator through an external MQTT bridge.
//
// Sink publishes each movement as JSON and leaves delivery to whatever
// firmware or bridge subscribes to the device topics:
//
//	{prefix}/device/command/linear  {"id","position","duration_ms","timestamp"}
//	{prefix}/device/command/stop    {"id","timestamp"}
//
// Commands are published with the client's QoS and are never retained, so a
// bridge that reconnects does not replay stale moves. The sink counts as
// ready while the broker connection is up.
package mqttdevice

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/motion-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/motion-core/internal/playback"
)

// Publisher is the subset of the MQTT client the sink needs.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	IsConnected() bool
	Topics() mqtt.Topics
}

// LinearCommand is the payload published for a move.
type LinearCommand struct {
	ID         string  `json:"id"`
	Position   float64 `json:"position"`
	DurationMs int     `json:"duration_ms"`
	Timestamp  string  `json:"timestamp"`
}

// StopCommand is the payload published for a stop.
type StopCommand struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

// Stats counts published commands.
type Stats struct {
	Connected bool   `json:"connected"`
	Topic     string `json:"topic"`
	Linear    uint64 `json:"linear_commands"`
	Stops     uint64 `json:"stop_commands"`
	Failures  uint64 `json:"failures"`
	LastID    string `json:"last_id,omitempty"`
}

// Sink implements playback.Sink over MQTT.
type Sink struct {
	pub    Publisher
	topics mqtt.Topics
	now    func() time.Time

	mu    sync.Mutex
	stats Stats

	callbackMu    sync.RWMutex
	onReadyChange func(bool)
}

// New creates a sink publishing through pub.
func New(pub Publisher) *Sink {
	return &Sink{
		pub:    pub,
		topics: pub.Topics(),
		now:    time.Now,
	}
}

// Name identifies the driver.
func (s *Sink) Name() string { return "mqtt" }

// Ready reports whether the broker connection is up.
func (s *Sink) Ready() bool { return s.pub.IsConnected() }

// Detail returns publish counters.
func (s *Sink) Detail() any {
	s.mu.Lock()
	st := s.stats
	s.mu.Unlock()
	st.Connected = s.Ready()
	st.Topic = s.topics.DeviceLinear()
	return st
}

// SetOnReadyChange registers a callback for broker connectivity changes.
func (s *Sink) SetOnReadyChange(callback func(ready bool)) {
	s.callbackMu.Lock()
	s.onReadyChange = callback
	s.callbackMu.Unlock()
}

// ConnectionChanged forwards broker connect and disconnect events. Wire it
// to the MQTT client's SetOnConnect and SetOnDisconnect callbacks.
func (s *Sink) ConnectionChanged(connected bool) {
	s.callbackMu.RLock()
	callback := s.onReadyChange
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(connected)
	}
}

// SendLinear publishes a move to position (clamped to 0.0-1.0) over
// durationMs.
func (s *Sink) SendLinear(ctx context.Context, position float64, durationMs int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.pub.IsConnected() {
		return playback.ErrDeviceUnavailable
	}

	cmd := LinearCommand{
		ID:         uuid.NewString(),
		Position:   math.Max(0, math.Min(1, position)),
		DurationMs: max(durationMs, 0),
		Timestamp:  s.now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.pub.PublishJSON(s.topics.DeviceLinear(), cmd, false); err != nil {
		s.record(func(st *Stats) { st.Failures++ })
		return fmt.Errorf("publishing linear command: %w", err)
	}
	s.record(func(st *Stats) {
		st.Linear++
		st.LastID = cmd.ID
	})
	return nil
}

// SendStop publishes a stop.
func (s *Sink) SendStop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.pub.IsConnected() {
		return playback.ErrDeviceUnavailable
	}

	cmd := StopCommand{
		ID:        uuid.NewString(),
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.pub.PublishJSON(s.topics.DeviceStop(), cmd, false); err != nil {
		s.record(func(st *Stats) { st.Failures++ })
		return fmt.Errorf("publishing stop command: %w", err)
	}
	s.record(func(st *Stats) {
		st.Stops++
		st.LastID = cmd.ID
	})
	return nil
}

func (s *Sink) record(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}
