// Package api implements the HTTP REST API and WebSocket server for scanlink.
//
// This package provides:
//   - REST endpoints for discovery, pairing, the capture session and the
//     persisted scanner
//   - A WebSocket hub that relays bus events and routes scans to clients
//     that claim a listener kind
//   - HandleCommand, the same operations for requests arriving over MQTT
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The server sits between the front end and three components: the
// discovery controller, the pairing orchestrator and the capture manager.
// Requests call straight into them; their results come back as events on
// the bus, which the hub forwards to subscribed WebSocket clients.
//
// # Scan routing
//
// A WebSocket client sends {"type":"claim","payload":{"kind":"cart"}} to
// become the "cart" listener. Each scan is delivered as a "scan" message
// to the client holding the highest-priority claimed kind only. Claims
// end with a "release" message or when the connection closes.
//
// # Graceful Degradation
//
// The server runs without scan history; GET /scanner/scans then answers
// 503 and everything else works.
package api
