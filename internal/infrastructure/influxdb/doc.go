// Package influxdb writes pgdesk telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. When enabled, every
// statement is recorded as a pgdesk_queries point (database, outcome and
// source tags; duration and row count fields). Statement text is never
// exported.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteQueryMetric(influxdb.QueryPoint{Database: "test", Outcome: "ok", Duration: d})
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval); their
// errors are delivered to the SetOnError callback wrapped in ErrWriteFailed.
// Connection and health check errors are returned directly.
package influxdb
