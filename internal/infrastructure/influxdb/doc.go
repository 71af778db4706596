// Package influxdb exports device telemetry to InfluxDB v2.
//
// It wraps influxdb-client-go with connection checks, batched non-blocking
// writes and a small set of measurement helpers used by the bridge:
//
//   - boneco_state: one point per successful poll, tagged by address and
//     device class, with sensor readings and state values as fields
//   - boneco_signal: advertisement RSSI per address
//   - boneco_write: outcome of each debounced state write
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // export switched off
//	}
//	defer client.Close()
//
//	client.WriteDeviceSample(influxdb.DeviceSample{
//	    Address:     "AA:BB:CC:DD:EE:FF",
//	    DeviceClass: "TOP_CLIMATE",
//	    Fields:      map[string]interface{}{"humidity": 48},
//	})
//
// Write errors are asynchronous and reported through SetOnError. Every write
// helper is a no-op on a nil or closed client, so callers can hold a nil
// *Client when export is disabled.
package influxdb
