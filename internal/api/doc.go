// Package api implements the HTTP REST API and WebSocket server of the
// Boneco bridge.
//
// This package provides:
//   - REST endpoints for discovery, pairing flows, paired devices, entity
//     writes and snapshot history
//   - WebSocket hub pushing snapshots and pairing progress
//   - Bearer JWT authentication with role-based permissions
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support
//
// # Architecture
//
// The API sits beside the MQTT surface. Both drive the same bridge: entity
// writes go to the device coordinator and are acknowledged once queued, and
// snapshots come back through the hub's ble.Observer implementation.
//
// # Security
//
// When security.jwt.secret is empty every route is open. Otherwise requests
// carry "Authorization: Bearer <token>"; the WebSocket also accepts the
// token as a "token" query parameter because browsers cannot set headers on
// the upgrade request.
package api
