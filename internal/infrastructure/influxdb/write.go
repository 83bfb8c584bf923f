package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementQueries  = "pgdesk_queries"
	measurementTerminal = "pgdesk_terminal"
)

// QueryPoint describes one executed statement.
type QueryPoint struct {
	Database string
	Outcome  string
	Source   string
	Duration time.Duration
	Rows     int
	At       time.Time
}

// WriteQueryMetric records a statement execution. Statement text is never
// written; tags stay low-cardinality.
func (c *Client) WriteQueryMetric(q QueryPoint) {
	if !c.IsConnected() {
		return
	}

	at := q.At
	if at.IsZero() {
		at = time.Now()
	}

	point := write.NewPoint(
		measurementQueries,
		map[string]string{
			"database": q.Database,
			"outcome":  q.Outcome,
			"source":   q.Source,
		},
		map[string]any{
			"duration_ms": float64(q.Duration) / float64(time.Millisecond),
			"rows":        q.Rows,
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WriteTerminalMetric records terminal traffic for one interval.
func (c *Client) WriteTerminalMetric(bytesIn, bytesOut int, rows, cols uint16) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementTerminal,
		nil,
		map[string]any{
			"bytes_in":  bytesIn,
			"bytes_out": bytesOut,
			"rows":      int(rows),
			"cols":      int(cols),
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
