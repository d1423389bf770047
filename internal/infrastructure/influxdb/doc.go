// Package influxdb writes scanner telemetry to InfluxDB v2.
//
// It records battery readings, scan counts, driver error counts and
// pairing outcomes so a fleet of scanner hosts can be watched from one
// dashboard. Telemetry is optional: Connect returns ErrDisabled when the
// influxdb section is not enabled and callers carry on without it.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	client.WriteBatteryLevel("00:11:22:33:44:55", "Scanner", 87)
package influxdb
