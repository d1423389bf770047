// Package events carries scanlink's upward notifications.
//
// Components publish typed payloads (discovery snapshots, pairing states,
// scans, scanner device state) on a Bus. In-process subscribers such as the
// WebSocket hub receive them synchronously; sinks (MQTT, InfluxDB
// telemetry) receive them through their own bounded queues.
//
//	bus := events.NewBus()
//	bus.AddSink(events.NewMQTTSink(mqttClient))
//	unsubscribe := bus.Subscribe(func(e events.Event) { ... })
//	defer unsubscribe()
package events
