package control

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/motion-core/internal/analysis"
	"github.com/nerrad567/motion-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/motion-core/internal/motion"
	"github.com/nerrad567/motion-core/internal/playback"
)

func newHandler(t *testing.T) (*MQTTHandler, *mockMQTTClient, *fixture) {
	t.Helper()
	f := newFixture(t, goodReply, nil)
	client := &mockMQTTClient{topics: mqtt.NewTopics("")}
	h := NewMQTTHandler(f.svc, client, nil)
	t.Cleanup(h.Close)
	return h, client, f
}

func TestMQTTHandler_Start(t *testing.T) {
	h, client, _ := newHandler(t)

	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if client.subscribedTo != "motioncore/command/+" || client.subscribedQoS != 1 {
		t.Errorf("subscribed to %q qos %d", client.subscribedTo, client.subscribedQoS)
	}

	pubs := client.published()
	if len(pubs) != 1 || pubs[0].topic != "motioncore/playback/state" || !pubs[0].retained {
		t.Fatalf("published = %+v, want retained playback state", pubs)
	}
	if st, ok := pubs[0].payload.(playback.Status); !ok || st.Phase != playback.PhaseIdle {
		t.Errorf("payload = %+v", pubs[0].payload)
	}
}

func TestMQTTHandler_StartSubscribeError(t *testing.T) {
	h, client, _ := newHandler(t)
	client.subscribeErr = errors.New("not connected")

	if err := h.Start(); err == nil {
		t.Error("Start() expected error")
	}
}

func TestMQTTHandler_Broadcast(t *testing.T) {
	h, client, _ := newHandler(t)

	h.Broadcast(EventPlaybackState, "state")
	h.Broadcast(EventAnalysisCompleted, "result")
	h.Broadcast(EventPlaybackCommand, "cmd")
	h.Broadcast(EventDeviceState, "device")

	pubs := client.published()
	if len(pubs) != 2 {
		t.Fatalf("published %d messages, want 2: %+v", len(pubs), pubs)
	}
	if pubs[0].topic != "motioncore/playback/state" || !pubs[0].retained {
		t.Errorf("state publish = %+v", pubs[0])
	}
	if pubs[1].topic != "motioncore/analysis/completed" || pubs[1].retained {
		t.Errorf("analysis publish = %+v", pubs[1])
	}
}

func TestMQTTHandler_Commands(t *testing.T) {
	tests := []struct {
		name      string
		topic     string
		payload   string
		wantErr   error
		wantMoves bool
	}{
		{
			name:      "play inline set",
			topic:     "motioncore/command/play",
			payload:   `{"start": ["500,20"], "loop": ["400,80", "400,20"]}`,
			wantMoves: true,
		},
		{
			name:    "play empty set",
			topic:   "motioncore/command/play",
			payload: `{"start": [], "loop": []}`,
			wantErr: motion.ErrEmptyMovementSet,
		},
		{
			name:    "play unknown analysis",
			topic:   "motioncore/command/play",
			payload: `{"analysis_id": "missing"}`,
			wantErr: analysis.ErrNotFound,
		},
		{
			name:    "play bad json",
			topic:   "motioncore/command/play",
			payload: `{"start": `,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "analyze bad json",
			topic:   "motioncore/command/analyze",
			payload: `[]`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "analyze empty text",
			topic:   "motioncore/command/analyze",
			payload: `{"text": ""}`,
			wantErr: ErrEmptyInput,
		},
		{
			name:    "stop",
			topic:   "motioncore/command/stop",
			payload: `{}`,
		},
		{
			name:    "unknown command",
			topic:   "motioncore/command/rewind",
			payload: `{}`,
			wantErr: ErrUnknownCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, f := newHandler(t)

			err := h.handle(tt.topic, []byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("handle() error = %v, want %v", err, tt.wantErr)
			}
			if got := len(f.device.linear()) > 0; got != tt.wantMoves {
				t.Errorf("device moved = %v, want %v", got, tt.wantMoves)
			}
		})
	}
}

func TestMQTTHandler_PlayStoredAnalysis(t *testing.T) {
	h, _, f := newHandler(t)

	res, err := f.svc.Analyze(context.Background(), "waves", false)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if err := h.handle("motioncore/command/play", []byte(`{"analysis_id": "`+res.ID+`"}`)); err != nil {
		t.Fatalf("handle(play) error = %v", err)
	}
	if !f.scheduler.Active() {
		t.Error("stored analysis not playing")
	}

	if err := h.handle("motioncore/command/stop", nil); err != nil {
		t.Fatalf("handle(stop) error = %v", err)
	}
	if f.scheduler.Active() || f.device.stopCount() != 1 {
		t.Errorf("after stop active=%v stops=%d", f.scheduler.Active(), f.device.stopCount())
	}
}

func TestMQTTHandler_AnalyzeAsync(t *testing.T) {
	h, client, f := newHandler(t)
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}

	if err := h.handle("motioncore/command/analyze", []byte(`{"text": "slow waves", "autoplay": true}`)); err != nil {
		t.Fatalf("handle(analyze) error = %v", err)
	}
	h.Close()

	var completed int
	for _, p := range client.published() {
		if p.topic == "motioncore/analysis/completed" {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("analysis results published = %d, want 1", completed)
	}
	if len(f.repo.records) != 1 {
		t.Errorf("stored records = %d, want 1", len(f.repo.records))
	}
	if !f.scheduler.Active() {
		t.Error("autoplay did not start")
	}
}

// ─── Mocks ──────────────────────────────────────────────────────────

type publication struct {
	topic    string
	payload  any
	retained bool
}

type mockMQTTClient struct {
	topics        mqtt.Topics
	subscribeErr  error
	subscribedTo  string
	subscribedQoS byte

	mu   sync.Mutex
	pubs []publication
}

func (c *mockMQTTClient) Subscribe(topic string, qos byte, _ mqtt.MessageHandler) error {
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.subscribedTo = topic
	c.subscribedQoS = qos
	return nil
}

func (c *mockMQTTClient) PublishJSON(topic string, v any, retained bool) error {
	c.mu.Lock()
	c.pubs = append(c.pubs, publication{topic, v, retained})
	c.mu.Unlock()
	return nil
}

func (c *mockMQTTClient) Topics() mqtt.Topics { return c.topics }

func (c *mockMQTTClient) published() []publication {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publication(nil), c.pubs...)
}
