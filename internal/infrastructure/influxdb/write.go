package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementDeviceState = "boneco_state"
	MeasurementSignal      = "boneco_signal"
	MeasurementWrite       = "boneco_write"
)

// DeviceSample is one flattened device reading. Fields holds numeric or
// boolean values keyed by entity key (temperature, humidity, fan_level...).
type DeviceSample struct {
	Address     string
	DeviceClass string
	Name        string
	Fields      map[string]interface{}
	Time        time.Time
}

// WriteDeviceSample records a polled snapshot. Samples without fields are
// skipped.
func (c *Client) WriteDeviceSample(sample DeviceSample) {
	if !c.IsConnected() {
		return
	}
	point := samplePoint(sample)
	if point == nil {
		return
	}
	c.writeAPI.WritePoint(point)
}

// WriteSignal records the RSSI of the last advertisement seen for an address.
func (c *Client) WriteSignal(address string, rssi int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(signalPoint(address, rssi, at))
}

// WriteOutcome records the result of a debounced state write.
func (c *Client) WriteOutcome(address string, ok bool, at time.Time) {
	if !c.IsConnected() {
		return
	}
	point := write.NewPoint(
		MeasurementWrite,
		map[string]string{"address": address},
		map[string]interface{}{"ok": ok},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func samplePoint(sample DeviceSample) *write.Point {
	if len(sample.Fields) == 0 {
		return nil
	}
	tags := map[string]string{
		"address":      sample.Address,
		"device_class": sample.DeviceClass,
	}
	if sample.Name != "" {
		tags["name"] = sample.Name
	}
	ts := sample.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(MeasurementDeviceState, tags, sample.Fields, ts)
}

func signalPoint(address string, rssi int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSignal,
		map[string]string{"address": address},
		map[string]interface{}{"rssi": rssi},
		at,
	)
}
