package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/motion-core/internal/infrastructure/config"
	"github.com/nerrad567/motion-core/internal/infrastructure/database"
	"github.com/nerrad567/motion-core/internal/motion"
)

// isolate runs the test in an empty directory with no config override, so
// commands fall back to built-in defaults.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(configEnvVar, "")
	return dir
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestGetConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{name: "default", want: defaultConfigPath},
		{name: "env override", env: "/etc/motioncore/config.yaml", want: "/etc/motioncore/config.yaml"},
		{name: "flag wins", flag: "./local.yaml", env: "/etc/motioncore/config.yaml", want: "./local.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(configEnvVar, tt.env)
			if got := getConfigPath(tt.flag); got != tt.want {
				t.Errorf("getConfigPath(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := isolate(t)

	t.Run("missing default file uses defaults", func(t *testing.T) {
		cfg, path, err := loadConfig("")
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if path != "" {
			t.Errorf("path = %q, want empty", path)
		}
		if cfg.Device.Driver != config.DriverSimulator {
			t.Errorf("driver = %q, want simulator", cfg.Device.Driver)
		}
	})

	t.Run("explicit missing file fails", func(t *testing.T) {
		if _, _, err := loadConfig(filepath.Join(dir, "nope.yaml")); err == nil {
			t.Error("loadConfig() expected error")
		}
	})

	t.Run("file is loaded", func(t *testing.T) {
		path := writeFile(t, dir, "config.yaml", "device:\n  max_speed: 300\n")
		cfg, got, err := loadConfig(path)
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if got != path || cfg.Device.MaxSpeed != 300 {
			t.Errorf("path = %q, max_speed = %v", got, cfg.Device.MaxSpeed)
		}
	})

	t.Run("invalid file is rejected", func(t *testing.T) {
		path := writeFile(t, dir, "bad.yaml", "device:\n  driver: serial\n")
		if _, _, err := loadConfig(path); err == nil {
			t.Error("loadConfig() expected validation error")
		}
	})
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()
	want := []string{"analyze", "migrate", "plan", "serve", "simulate", "version"}
	for _, name := range want {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "motioncore "+version) {
		t.Errorf("output = %q", out)
	}
}

func TestPlanCmd(t *testing.T) {
	dir := isolate(t)
	setFile := writeFile(t, dir, "set.json", `{"start": ["1000,100"], "loop": ["200,0", "200,100"]}`)

	out, _, err := execute(t, "", "plan", setFile, "--from", "0")
	if err != nil {
		t.Fatalf("plan error = %v", err)
	}
	for _, want := range []string{"Plan from 0.0%", "PHASE", "start", "loop", "mm/s", "per cycle"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	// 125 mm in 200 ms is over the 450 mm/s limit.
	if !strings.Contains(out, "278ms *") {
		t.Errorf("expected governed loop segment in:\n%s", out)
	}
}

func TestPlanCmd_Stdin(t *testing.T) {
	isolate(t)
	out, _, err := execute(t, `{"start": [], "loop": ["500,20", "500,80"]}`, "plan", "-")
	if err != nil {
		t.Fatalf("plan error = %v", err)
	}
	if !strings.Contains(out, "Plan from 50.0%") {
		t.Errorf("default start position not used:\n%s", out)
	}
}

func TestPlanCmd_Errors(t *testing.T) {
	dir := isolate(t)

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "empty set", content: `{"start": [], "loop": ["bogus"]}`, wantErr: motion.ErrEmptyMovementSet},
		{name: "not json", content: `start: 1000,50`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "set.json", tt.content)
			_, _, err := execute(t, "", "plan", path)
			if err == nil {
				t.Fatal("plan expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, _, err := execute(t, "", "plan"); err == nil {
		t.Error("plan without arguments expected error")
	}
}

func TestAnalyzeCmd(t *testing.T) {
	isolate(t)

	t.Run("plan output", func(t *testing.T) {
		out, _, err := execute(t, "", "analyze", "a", "steady", "rhythm")
		if err != nil {
			t.Fatalf("analyze error = %v", err)
		}
		if !strings.Contains(out, "generator static: 1 attempt(s)") || !strings.Contains(out, "Plan from 50.0%") {
			t.Errorf("output = %s", out)
		}
	})

	t.Run("json output from stdin", func(t *testing.T) {
		out, _, err := execute(t, "a steady rhythm", "analyze", "--file", "-", "--json")
		if err != nil {
			t.Fatalf("analyze error = %v", err)
		}
		if !strings.Contains(out, `"start"`) || !strings.Contains(out, `"loop"`) {
			t.Errorf("output = %s", out)
		}
	})

	t.Run("no text", func(t *testing.T) {
		if _, _, err := execute(t, "", "analyze"); err == nil {
			t.Error("analyze without text expected error")
		}
	})
}

func TestAnalyzeCmd_Failure(t *testing.T) {
	dir := isolate(t)
	cfgPath := writeFile(t, dir, "config.yaml", `
llm:
  provider: static
  static_response: "I would rather not."
analysis:
  retry:
    enabled: false
`)

	_, stderr, err := execute(t, "", "analyze", "--config", cfgPath, "anything")
	if err == nil {
		t.Fatal("analyze expected error")
	}
	if !strings.Contains(stderr, "I would rather not.") {
		t.Errorf("stderr = %q, want last response", stderr)
	}
}

func TestRunSimulate(t *testing.T) {
	cfg := config.Default()

	t.Run("start only finishes", func(t *testing.T) {
		set := motion.ParseMovementSet([]string{"20,10", "20,90"}, nil)
		cfg.Device.Expansion.Enabled = false

		var out bytes.Buffer
		err := runSimulate(context.Background(), &out, cfg, set, 5*time.Second, cliLogger(&options{}))
		if err != nil {
			t.Fatalf("runSimulate() error = %v", err)
		}
		if n := strings.Count(out.String(), "start "); n != 2 {
			t.Errorf("command lines = %d, want 2:\n%s", n, out.String())
		}
		if !strings.Contains(out.String(), "done: 2 command(s)") {
			t.Errorf("summary missing:\n%s", out.String())
		}
	})

	t.Run("loop stops after duration", func(t *testing.T) {
		set := motion.ParseMovementSet(nil, []string{"100,20", "100,80"})

		var out bytes.Buffer
		start := time.Now()
		err := runSimulate(context.Background(), &out, cfg, set, 300*time.Millisecond, cliLogger(&options{}))
		if err != nil {
			t.Fatalf("runSimulate() error = %v", err)
		}
		if time.Since(start) > 3*time.Second {
			t.Error("loop did not stop")
		}
		if !strings.Contains(out.String(), "loop ") || !strings.Contains(out.String(), "done:") {
			t.Errorf("output:\n%s", out.String())
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		set := motion.ParseMovementSet(nil, []string{"1000,20", "1000,80"})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var out bytes.Buffer
		if err := runSimulate(ctx, &out, cfg, set, time.Minute, cliLogger(&options{})); err != nil {
			t.Fatalf("runSimulate() error = %v", err)
		}
	})
}

func TestRunMigrate(t *testing.T) {
	dir := t.TempDir()
	db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(dir, "test.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	steps := []struct {
		action string
		want   string
	}{
		{"status", "pending"},
		{"up", "applied 1 migration(s)"},
		{"up", "applied 0 migration(s)"},
		{"down", "rolled back 20260301_120000"},
		{"down", "nothing to roll back"},
		{"up", "applied 1 migration(s)"},
		{"status", "20260301_120000"},
	}
	for _, step := range steps {
		var out bytes.Buffer
		if err := runMigrate(ctx, &out, db, step.action); err != nil {
			t.Fatalf("migrate %s error = %v", step.action, err)
		}
		if !strings.Contains(out.String(), step.want) {
			t.Errorf("migrate %s output = %q, want %q", step.action, out.String(), step.want)
		}
	}

	if _, _, err := execute(t, "", "migrate", "sideways"); err == nil {
		t.Error("migrate with an unknown action expected error")
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	isolate(t)
	err := runServe(context.Background(), &options{configPath: "/nonexistent/path/config.yaml"})
	if err == nil {
		t.Fatal("runServe() should fail with invalid config path")
	}
}

// TestServe_StartupAndShutdown runs the full service on the simulator and
// checks it answers health requests and stops cleanly on cancellation.
func TestServe_StartupAndShutdown(t *testing.T) {
	dir := isolate(t)
	port := freePort(t)
	cfgPath := writeFile(t, dir, "config.yaml", fmt.Sprintf(`
device:
  driver: simulator
database:
  path: %q
api:
  host: 127.0.0.1
  port: %d
logging:
  level: error
`, filepath.Join(dir, "motioncore.db"), port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, &options{configPath: cfgPath}) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(url) //nolint:gosec,noctx // test URL
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("health status = %d", resp.StatusCode)
			}
			break
		}
		select {
		case err := <-done:
			t.Fatalf("runServe() exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("service did not become healthy: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/panel/", port)) //nolint:gosec,noctx // test URL
	if err != nil {
		t.Fatalf("GET /panel/: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /panel/ status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runServe() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("runServe() did not stop")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // tcp listener
}
