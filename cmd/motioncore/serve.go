package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/motion-core/internal/analysis"
	"github.com/nerrad567/motion-core/internal/api"
	"github.com/nerrad567/motion-core/internal/bridges/intiface"
	"github.com/nerrad567/motion-core/internal/bridges/mqttdevice"
	"github.com/nerrad567/motion-core/internal/control"
	"github.com/nerrad567/motion-core/internal/infrastructure/config"
	"github.com/nerrad567/motion-core/internal/infrastructure/database"
	"github.com/nerrad567/motion-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/motion-core/internal/infrastructure/logging"
	"github.com/nerrad567/motion-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/motion-core/internal/llm"
	"github.com/nerrad567/motion-core/internal/panel"
	"github.com/nerrad567/motion-core/internal/playback"
	"github.com/nerrad567/motion-core/internal/process"
	"github.com/nerrad567/motion-core/internal/simulator"
	"github.com/nerrad567/motion-core/migrations"
)

// shutdownTimeout bounds the final device stop during shutdown.
const shutdownTimeout = 5 * time.Second

// readyNotifier is implemented by device drivers whose readiness changes
// at runtime.
type readyNotifier interface {
	SetOnReadyChange(callback func(ready bool))
}

// runServe is the service: it wires every component, runs the long-lived
// ones under an errgroup and blocks until ctx is cancelled.
//
// Parameters:
//   - ctx: Context cancelled by SIGINT/SIGTERM
//   - opts: Persistent command-line flags
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func runServe(ctx context.Context, opts *options) error {
	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing useful to do on shutdown
	log.Info("starting Motion Core",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", cfgPath,
	)

	// Open database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Text generator and analyzer
	gen, err := llm.New(ctx, llmConfig(cfg.LLM))
	if err != nil {
		return fmt.Errorf("creating text generator: %w", err)
	}
	analyzer := analysis.NewAnalyzer(gen, control.AnalysisConfig(cfg.Analysis), log.With("component", "analysis"))
	log.Info("text generator ready", "generator", gen.Name())

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			st := mqttClient.Stats()
			log.Info("disconnecting from MQTT", "received", st.Received, "handler_errors", st.HandlerErrors, "connects", st.Connects)
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"prefix", cfg.MQTT.TopicPrefix,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional). The telemetry interface stays nil when
	// disabled so the service skips it.
	var (
		influxClient *influxdb.Client
		telemetry    control.Telemetry
	)
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
			st := influxClient.Stats()
			log.Info("InfluxDB connection closed", "points", st.Points, "write_errors", st.WriteErrors)
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Device and playback
	dev, runDevice, err := newDevice(cfg, mqttClient, log)
	if err != nil {
		return err
	}
	scheduler := playback.NewScheduler(dev, playback.Config{Envelope: cfg.Device.Envelope()}, log.With("component", "playback"))
	scheduler.SetPosition(cfg.Device.InitialPosition)

	svc, err := control.New(control.Deps{
		Analyzer:     analyzer,
		Scheduler:    scheduler,
		Device:       dev,
		Repository:   analysis.NewSQLiteRepository(db.DB),
		Telemetry:    telemetry,
		Provider:     gen.Name(),
		HistoryLimit: cfg.Analysis.HistoryLimit,
		Logger:       log.With("component", "control"),
	})
	if err != nil {
		return fmt.Errorf("creating control service: %w", err)
	}
	if n, ok := dev.(readyNotifier); ok {
		n.SetOnReadyChange(svc.DeviceReadyChanged)
	}
	log.Info("device configured", "driver", dev.Name(), "ready", dev.Ready())

	// WebSocket hub and HTTP API. The hub is created here so the service
	// can broadcast to it from the first event.
	hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
	svc.AddBroadcaster(hub)
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Control:  svc,
		Hub:      hub,
		Panel:    panel.Handler(cfg.API.PanelDir),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// MQTT remote control
	var mqttHandler *control.MQTTHandler
	if mqttClient != nil {
		mqttHandler = control.NewMQTTHandler(svc, mqttClient, log.With("component", "mqtt-control"))
		if startErr := mqttHandler.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT control: %w", startErr)
		}
		wireMQTTCallbacks(mqttClient, dev, mqttHandler, svc, log)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	var engine *process.Manager
	if cfg.Device.Driver == config.DriverIntiface && cfg.Intiface.Engine.Managed {
		engine, err = newEngineManager(cfg.Intiface, log)
		if err != nil {
			return err
		}
	}

	// The device outlives the rest of the group so the final stop command
	// still reaches it.
	devCtx, stopDevice := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDevice()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if engine != nil {
		g.Go(func() error {
			// A dead engine leaves the device not ready; the API stays up.
			if runErr := engine.Run(devCtx); runErr != nil {
				log.Error("intiface-engine supervision ended", "error", runErr)
			}
			return nil
		})
	}

	if runDevice != nil {
		g.Go(func() error {
			return runDevice(devCtx)
		})
	}

	if cfgPath != "" {
		watcher := config.NewWatcher(cfgPath, cfg, log)
		watcher.Subscribe(svc.ApplyConfig)
		watcher.Subscribe(func(c *config.Config) {
			log.SetLevel(c.Logging.Level)
		})
		g.Go(func() error {
			if watchErr := watcher.Run(gctx); watchErr != nil {
				log.Warn("config reload disabled", "error", watchErr)
			}
			return nil
		})
	}

	if err := server.Start(gctx); err != nil {
		cancelRun()
		stopDevice()
		return errors.Join(fmt.Errorf("starting API server: %w", err), waitGroup(g))
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, cleaning up")

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := svc.Stop(stopCtx); stopErr != nil {
			log.Warn("error stopping playback", "error", stopErr)
		}
		stopDevice()

		if mqttHandler != nil {
			mqttHandler.Close()
		}
		return server.Close()
	})

	log.Info("initialisation complete, waiting for shutdown signal", "api", server.Addr())
	if err := waitGroup(g); err != nil {
		return err
	}

	log.Info("Motion Core stopped")
	return nil
}

// waitGroup waits for g and drops context cancellation, which is how every
// member of the group ends on shutdown.
func waitGroup(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newDevice creates the configured device driver.
//
// Returns:
//   - control.Device: The playback sink
//   - func(context.Context) error: Connection loop to supervise, or nil
//   - error: If the driver needs a component that is not configured
func newDevice(cfg *config.Config, mqttClient *mqtt.Client, log *logging.Logger) (control.Device, func(context.Context) error, error) {
	switch cfg.Device.Driver {
	case config.DriverIntiface:
		link := intiface.New(intiface.Config{
			URL:            cfg.Intiface.URL,
			ClientName:     cfg.Intiface.ClientName,
			DeviceIndex:    cfg.Intiface.DeviceIndex,
			ScanOnConnect:  cfg.Intiface.ScanOnConnect,
			ReconnectDelay: cfg.Intiface.ReconnectDelay,
		}, log.With("component", "intiface"))
		return link, link.Run, nil

	case config.DriverMQTT:
		if mqttClient == nil {
			return nil, nil, fmt.Errorf("device driver %q requires mqtt.enabled", cfg.Device.Driver)
		}
		return mqttdevice.New(mqttClient), nil, nil

	default:
		return simulator.New(cfg.Device.StrokeLength, log.With("component", "simulator")), nil, nil
	}
}

// wireMQTTCallbacks routes broker connectivity to the MQTT device sink (if
// that is the driver) and republishes playback state after a reconnect.
func wireMQTTCallbacks(client *mqtt.Client, dev control.Device, handler *control.MQTTHandler, svc *control.Service, log *logging.Logger) {
	sink, _ := dev.(*mqttdevice.Sink) //nolint:errcheck // nil when another driver is configured

	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		if sink != nil {
			sink.ConnectionChanged(true)
		}
		handler.Broadcast(control.EventPlaybackState, svc.Status().Playback)
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
		if sink != nil {
			sink.ConnectionChanged(false)
		}
	})
}

// newEngineManager builds the supervisor for a locally managed
// intiface-engine.
func newEngineManager(cfg config.IntifaceConfig, log *logging.Logger) (*process.Manager, error) {
	pcfg, err := process.EngineConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("configuring intiface-engine: %w", err)
	}
	engineLog := log.With("component", process.EngineName)
	pcfg.OnRestart = func(attempt int, delay time.Duration) {
		engineLog.Warn("restarting intiface-engine", "attempt", attempt, "delay", delay)
	}
	m := process.NewManager(pcfg)
	m.SetLogger(engineLog)
	return m, nil
}

// llmConfig converts the llm section of the configuration.
func llmConfig(cfg config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:       cfg.Provider,
		Model:          cfg.Model,
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Timeout:        cfg.Timeout,
		StaticResponse: cfg.StaticResponse,
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
