// Package influxdb provides InfluxDB connectivity for Motion Core.
//
// It wraps the official influxdb-client-go v2 library and records two
// measurements:
//   - motion_command: every movement sent to the device (position,
//     duration_ms, speed_mm_s; tagged by device and phase)
//   - analysis: every finished analysis (attempts, success; tagged by
//     provider and extraction method)
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteMotionCommand(influxdb.MotionSample{Phase: "loop", Position: 0.8, DurationMs: 400})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; failures are
// delivered to the SetOnError callback.
package influxdb
