package mqttdevice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/motion-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/motion-core/internal/playback"
)

func TestSink_SendLinear(t *testing.T) {
	pub := newMockPublisher(true)
	sink := New(pub)
	sink.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	tests := []struct {
		name         string
		position     float64
		durationMs   int
		wantPosition float64
		wantDuration int
	}{
		{"in range", 0.75, 400, 0.75, 400},
		{"clamped high", 1.4, 200, 1, 200},
		{"clamped low", -0.2, 200, 0, 200},
		{"negative duration", 0.5, -5, 0.5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := sink.SendLinear(context.Background(), tt.position, tt.durationMs); err != nil {
				t.Fatalf("SendLinear() error = %v", err)
			}
			msg := pub.last()
			if msg.topic != "studio/device/command/linear" || msg.retained {
				t.Errorf("published to %q retained=%v", msg.topic, msg.retained)
			}
			cmd, ok := msg.payload.(LinearCommand)
			if !ok {
				t.Fatalf("payload = %T, want LinearCommand", msg.payload)
			}
			if cmd.Position != tt.wantPosition || cmd.DurationMs != tt.wantDuration {
				t.Errorf("cmd = %+v", cmd)
			}
			if _, err := uuid.Parse(cmd.ID); err != nil {
				t.Errorf("id %q is not a uuid", cmd.ID)
			}
			if cmd.Timestamp != "2026-03-01T12:00:00Z" {
				t.Errorf("timestamp = %q", cmd.Timestamp)
			}
		})
	}

	stats := sink.Detail().(Stats)
	if stats.Linear != 4 || !stats.Connected || stats.Topic != "studio/device/command/linear" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSink_SendStop(t *testing.T) {
	pub := newMockPublisher(true)
	sink := New(pub)

	if err := sink.SendStop(context.Background()); err != nil {
		t.Fatalf("SendStop() error = %v", err)
	}
	msg := pub.last()
	if msg.topic != "studio/device/command/stop" {
		t.Errorf("topic = %q", msg.topic)
	}
	if _, ok := msg.payload.(StopCommand); !ok {
		t.Errorf("payload = %T, want StopCommand", msg.payload)
	}
	if stats := sink.Detail().(Stats); stats.Stops != 1 || stats.LastID == "" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSink_Disconnected(t *testing.T) {
	pub := newMockPublisher(false)
	sink := New(pub)

	if sink.Ready() {
		t.Error("Ready() = true while disconnected")
	}
	if err := sink.SendLinear(context.Background(), 0.5, 100); !errors.Is(err, playback.ErrDeviceUnavailable) {
		t.Errorf("SendLinear() error = %v, want ErrDeviceUnavailable", err)
	}
	if err := sink.SendStop(context.Background()); !errors.Is(err, playback.ErrDeviceUnavailable) {
		t.Errorf("SendStop() error = %v, want ErrDeviceUnavailable", err)
	}
	if n := pub.count(); n != 0 {
		t.Errorf("published %d messages while disconnected", n)
	}
}

func TestSink_PublishFailure(t *testing.T) {
	pub := newMockPublisher(true)
	pub.err = mqtt.ErrPublishFailed
	sink := New(pub)

	err := sink.SendLinear(context.Background(), 0.5, 100)
	if !errors.Is(err, mqtt.ErrPublishFailed) {
		t.Errorf("SendLinear() error = %v, want ErrPublishFailed", err)
	}
	if stats := sink.Detail().(Stats); stats.Failures != 1 || stats.Linear != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSink_CancelledContext(t *testing.T) {
	sink := New(newMockPublisher(true))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sink.SendLinear(ctx, 0.5, 100); !errors.Is(err, context.Canceled) {
		t.Errorf("SendLinear() error = %v, want context.Canceled", err)
	}
}

func TestSink_ConnectionChanged(t *testing.T) {
	sink := New(newMockPublisher(true))

	var got []bool
	sink.SetOnReadyChange(func(ready bool) { got = append(got, ready) })
	sink.ConnectionChanged(false)
	sink.ConnectionChanged(true)

	if len(got) != 2 || got[0] || !got[1] {
		t.Errorf("ready changes = %v, want [false true]", got)
	}
	if sink.Name() != "mqtt" {
		t.Errorf("Name() = %q", sink.Name())
	}
}

// ─── Mocks ─────────────────────────────────────────────────────────

type published struct {
	topic    string
	payload  any
	retained bool
}

type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	messages  []published
}

func newMockPublisher(connected bool) *mockPublisher {
	return &mockPublisher{connected: connected}
}

func (m *mockPublisher) PublishJSON(topic string, v any, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, published{topic, v, retained})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) Topics() mqtt.Topics { return mqtt.NewTopics("studio") }

func (m *mockPublisher) last() published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[len(m.messages)-1]
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}
