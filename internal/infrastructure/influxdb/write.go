package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementMotionCommand = "motion_command"
	MeasurementAnalysis      = "analysis"
)

// MotionSample is one dispatched movement.
type MotionSample struct {
	Device     string
	Phase      string
	Position   float64
	DurationMs int
	SpeedMmS   float64
	Timestamp  time.Time
}

// AnalysisSample is one finished analysis.
type AnalysisSample struct {
	Provider   string
	Method     string
	Attempts   int
	Success    bool
	Dropped    int
	DurationMs int64
	Timestamp  time.Time
}

// WriteMotionCommand records a dispatched movement.
//
// Tags are the device driver and playback phase so a dashboard can split
// start and loop traffic per device.
func (c *Client) WriteMotionCommand(s MotionSample) {
	c.writePoint(MeasurementMotionCommand,
		map[string]string{
			"device": s.Device,
			"phase":  s.Phase,
		},
		map[string]interface{}{
			"position":    s.Position,
			"duration_ms": s.DurationMs,
			"speed_mm_s":  s.SpeedMmS,
		},
		s.Timestamp,
	)
}

// WriteAnalysis records the result of an analysis.
func (c *Client) WriteAnalysis(s AnalysisSample) {
	tags := map[string]string{"provider": s.Provider}
	if s.Method != "" {
		tags["method"] = s.Method
	}
	c.writePoint(MeasurementAnalysis,
		tags,
		map[string]interface{}{
			"attempts":       s.Attempts,
			"success":        s.Success,
			"dropped_tokens": s.Dropped,
			"duration_ms":    s.DurationMs,
		},
		s.Timestamp,
	)
}

// writePoint queues a point, stamping it now when ts is zero. It is a
// no-op once the client is closed.
func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
	c.points.Add(1)
}
