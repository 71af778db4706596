package ble

import (
	"errors"
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
	"github.com/DeKaN/ha-boneco/internal/coordinator"
	"github.com/DeKaN/ha-boneco/internal/entity"
)

// ActionPress marks a command as a button press. Commands without an
// action carry a value to write.
const ActionPress = "press"

// CommandMessage asks the bridge to change one entity.
// Topic: {prefix}/command/{node}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	// Entity is the entity key (e.g. "fan", "child_lock").
	Entity string `json:"entity"`

	// Value is the new entity value. Its type depends on the entity:
	//   fan, number: integer
	//   switch: bool
	//   select: option string
	//   humidifier: bool, or {"is_on", "target_humidity", "mode"}
	Value any `json:"value,omitempty"`

	// Action is ActionPress for buttons, empty otherwise.
	Action string `json:"action,omitempty"`

	// Source indicates where the command originated ("mqtt", "api").
	Source string `json:"source,omitempty"`
}

// Command converts the message into a bridge command.
func (m CommandMessage) Command() Command {
	return Command{Entity: m.Entity, Value: m.Value, Action: m.Action}
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the write was queued on the device coordinator.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command was rejected.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: {prefix}/ack/{node}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"address"`
	Entity    string    `json:"entity"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is one of the ErrCode constants.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeUnknownEntity     = "UNKNOWN_ENTITY"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeDeviceUnavailable = "DEVICE_UNAVAILABLE"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// ErrorCode classifies a command error into an ack error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, entity.ErrUnknownEntity):
		return ErrCodeUnknownEntity
	case errors.Is(err, ErrInvalidCommand),
		errors.Is(err, entity.ErrNotWritable),
		errors.Is(err, entity.ErrNotPressable):
		return ErrCodeInvalidCommand
	case errors.Is(err, entity.ErrInvalidValue),
		errors.Is(err, entity.ErrOutOfRange),
		errors.Is(err, entity.ErrInvalidOption):
		return ErrCodeInvalidParameters
	case errors.Is(err, coordinator.ErrNoData):
		return ErrCodeDeviceUnavailable
	default:
		return ErrCodeBridgeError
	}
}

// NewAckMessage creates an accepted acknowledgement.
func NewAckMessage(cmd CommandMessage, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Address:   address,
		Entity:    cmd.Entity,
		Status:    AckAccepted,
	}
}

// NewAckError creates a failed acknowledgement for err.
func NewAckError(cmd CommandMessage, address string, err error) AckMessage {
	ack := NewAckMessage(cmd, address)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: ErrorCode(err), Message: err.Error()}
	return ack
}

// StateMessage carries the entity values of one device.
// Topic: {prefix}/state/{node}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Address     string             `json:"address"`
	Name        string             `json:"name"`
	DeviceClass boneco.DeviceClass `json:"device_class"`
	Timestamp   time.Time          `json:"timestamp"`

	// Available is false while polls fail. State then holds the last
	// values read.
	Available bool `json:"available"`

	// State maps entity keys to values. Buttons are not included.
	State map[string]any `json:"state"`

	// Error describes the last failed poll while unavailable.
	Error string `json:"error,omitempty"`
}

// DeviceMetadata describes a paired device for consumers.
type DeviceMetadata struct {
	Manufacturer    string             `json:"manufacturer"`
	Model           string             `json:"model"`
	Name            string             `json:"name"`
	DeviceClass     boneco.DeviceClass `json:"device_class"`
	SerialNumber    string             `json:"serial_number,omitempty"`
	SoftwareVersion string             `json:"sw_version,omitempty"`
	HardwareVersion string             `json:"hw_version,omitempty"`
}

// NewDeviceMetadata builds the metadata from the entry class and a snapshot.
func NewDeviceMetadata(class boneco.DeviceClass, snap boneco.Snapshot) DeviceMetadata {
	return DeviceMetadata{
		Manufacturer:    boneco.Manufacturer,
		Model:           snap.Info.Device.Model,
		Name:            snap.Name,
		DeviceClass:     class,
		SerialNumber:    snap.Info.SerialNumber,
		SoftwareVersion: snap.Info.SoftwareVersion,
		HardwareVersion: snap.Info.HardwareVersion,
	}
}

// DiscoveryMessage lists the entities a device exposes.
// Topic: {prefix}/discovery/{node}
// QoS: 1, Retained: Yes
type DiscoveryMessage struct {
	Address   string               `json:"address"`
	Timestamp time.Time            `json:"timestamp"`
	Device    DeviceMetadata       `json:"device"`
	Entities  []entity.Description `json:"entities"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: {prefix}/health/{bridge_id}
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// DevicesManaged is the number of running coordinators.
	DevicesManaged int `json:"devices_managed"`

	// DevicesAvailable is how many of them polled successfully last time.
	DevicesAvailable int `json:"devices_available"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// NewHealthMessage creates a health message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, counts DeviceCounts, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:           bridgeID,
		Timestamp:        time.Now().UTC(),
		Status:           status,
		Version:          version,
		UptimeSeconds:    int64(time.Since(startTime).Seconds()),
		DevicesManaged:   counts.Managed,
		DevicesAvailable: counts.Available,
	}
}

// NewLWTMessage creates the Last Will and Testament message.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}
