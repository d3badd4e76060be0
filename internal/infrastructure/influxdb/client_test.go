package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/motion-core/internal/infrastructure/config"
	"github.com/nerrad567/motion-core/internal/infrastructure/influxdb"
)

// fakeInflux answers the ping and write endpoints and keeps written lines.
type fakeInflux struct {
	*httptest.Server

	mu      sync.Mutex
	lines   []string
	healthy bool
	reject  bool
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{healthy: true}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/ping":
			f.mu.Lock()
			healthy := f.healthy
			f.mu.Unlock()
			if !healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == "/api/v2/write" && r.Method == http.MethodPost:
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
			f.mu.Lock()
			if f.reject {
				f.mu.Unlock()
				http.Error(w, `{"code":"invalid","message":"rejected"}`, http.StatusBadRequest)
				return
			}
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

// waitForLines polls until n lines arrived or the deadline passes.
func (f *fakeInflux) waitForLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if lines := f.written(); len(lines) >= n {
			return lines
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("got %d lines, want %d", len(f.written()), n)
	return nil
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "motioncore-test-token",
		Org:           "motioncore",
		Bucket:        "motion",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := newFakeInflux(t)
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	srv := newFakeInflux(t)
	cfg := testConfig(srv.URL)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()
}

func TestHealthCheck_Closed(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteMotionCommand(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteMotionCommand(influxdb.MotionSample{
		Device:     "simulator",
		Phase:      "loop",
		Position:   0.8,
		DurationMs: 400,
		SpeedMmS:   93.75,
		Timestamp:  time.Unix(1700000000, 0),
	})
	client.Flush()

	lines := srv.waitForLines(t, 1)
	line := lines[0]
	for _, want := range []string{
		"motion_command,device=simulator,phase=loop ",
		"position=0.8",
		"duration_ms=400i",
		"speed_mm_s=93.75",
		" 1700000000000000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWriteAnalysis(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteAnalysis(influxdb.AnalysisSample{Provider: "static", Attempts: 3, Success: false})
	client.Flush()

	line := srv.waitForLines(t, 1)[0]
	if !strings.HasPrefix(line, "analysis,provider=static ") {
		t.Errorf("line = %q, want analysis point without method tag", line)
	}
	for _, want := range []string{"attempts=3i", "success=false"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWrite_AfterCloseIsNoop(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	// Must not panic on a closed write API.
	client.WriteMotionCommand(influxdb.MotionSample{Phase: "start"})
	client.Flush()

	if lines := srv.written(); len(lines) != 0 {
		t.Errorf("written after close = %v", lines)
	}
}

func TestStats(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client.WriteMotionCommand(influxdb.MotionSample{Phase: "start"})
	client.WriteAnalysis(influxdb.AnalysisSample{Provider: "static"})
	client.Flush()
	srv.waitForLines(t, 2)

	st := client.Stats()
	if st.Points != 2 || st.WriteErrors != 0 || st.Bucket != "motion" || st.Disconnected {
		t.Errorf("Stats() = %+v", st)
	}

	client.Close()
	if st := client.Stats(); !st.Disconnected {
		t.Errorf("Stats() after Close = %+v, want disconnected", st)
	}
}

func TestWriteError_Reported(t *testing.T) {
	srv := newFakeInflux(t)
	srv.mu.Lock()
	srv.reject = true
	srv.mu.Unlock()

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	errs := make(chan error, 4)
	client.SetOnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	client.WriteMotionCommand(influxdb.MotionSample{Phase: "loop"})
	client.Flush()

	select {
	case err := <-errs:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error was not reported")
	}
	if st := client.Stats(); st.WriteErrors == 0 {
		t.Errorf("Stats().WriteErrors = 0 after a rejected batch")
	}
}
