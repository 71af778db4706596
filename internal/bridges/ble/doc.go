// Package ble bridges paired Boneco devices onto MQTT.
//
// The bridge owns one coordinator per persisted entry. Every snapshot a
// coordinator publishes is turned into entity values and fanned out:
//
//   - retained state on {prefix}/state/{node}
//   - retained entity descriptions on {prefix}/discovery/{node}
//   - a snapshot history row in SQLite
//   - device samples in InfluxDB
//   - the optional Observer (the API's WebSocket hub)
//
// Commands arrive on {prefix}/command/{node} as
//
//	{"id": "c1", "entity": "fan", "value": 50}
//	{"id": "c2", "entity": "reset_reminder_clean_date", "action": "press"}
//
// and are acknowledged on {prefix}/ack/{node}. An accepted command has been
// queued as a debounced write; write failures are logged and reflected by
// the next poll, never retried.
//
// Bridge health is published retained on {prefix}/health/{bridge_id} at a
// fixed interval.
package ble
