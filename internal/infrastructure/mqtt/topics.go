package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the topic root used when none is configured.
const DefaultTopicPrefix = "boneco"

// Topics builds the bridge's MQTT topic hierarchy under a common prefix.
//
// Gateway topics carry traffic between the bridge and the BLE gateway:
//
//	{prefix}/ble/advertisement          gateway → bridge
//	{prefix}/ble/{node}/request         bridge  → gateway
//	{prefix}/ble/{node}/response        gateway → bridge
//	{prefix}/ble/{node}/auth            gateway → bridge
//
// Device topics form the bridge's public surface:
//
//	{prefix}/state/{node}               retained snapshot
//	{prefix}/command/{node}             entity commands
//	{prefix}/ack/{node}                 command acknowledgements
//	{prefix}/discovery/{node}           retained entity list
//
// {node} is the device MAC in lower case without separators (see NodeID).
type Topics struct {
	Prefix string
}

// NewTopics returns a Topics rooted at prefix, falling back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// NodeID converts a BLE address into a topic-safe segment.
//
// Example: "AA:BB:CC:DD:EE:FF" → "aabbccddeeff"
func NodeID(address string) string {
	r := strings.NewReplacer(":", "", "-", "")
	return strings.ToLower(r.Replace(address))
}

// NodeFromTopic extracts the {node} segment from a device or gateway topic.
// It returns "" when the topic does not belong to this hierarchy.
func (t Topics) NodeFromTopic(topic string) string {
	rest, ok := strings.CutPrefix(topic, t.root()+"/")
	if !ok {
		return ""
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 3 && parts[0] == "ble":
		return parts[1]
	case len(parts) == 2 && parts[0] != "ble":
		return parts[1]
	}
	return ""
}

// =============================================================================
// Gateway Topics
// =============================================================================

// GatewayAdvertisement returns the topic the gateway publishes advertisements on.
func (t Topics) GatewayAdvertisement() string {
	return fmt.Sprintf("%s/ble/advertisement", t.root())
}

// GatewayRequest returns the topic for RPC requests to the gateway.
func (t Topics) GatewayRequest(node string) string {
	return fmt.Sprintf("%s/ble/%s/request", t.root(), node)
}

// GatewayResponse returns the topic for RPC responses from the gateway.
func (t Topics) GatewayResponse(node string) string {
	return fmt.Sprintf("%s/ble/%s/response", t.root(), node)
}

// GatewayAuth returns the topic for authorization state events.
func (t Topics) GatewayAuth(node string) string {
	return fmt.Sprintf("%s/ble/%s/auth", t.root(), node)
}

// GatewayStatus returns the topic the gateway reports its own liveness on.
func (t Topics) GatewayStatus() string {
	return fmt.Sprintf("%s/ble/status", t.root())
}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceState returns the retained state topic for a device.
func (t Topics) DeviceState(node string) string {
	return fmt.Sprintf("%s/state/%s", t.root(), node)
}

// DeviceCommand returns the command topic for a device.
func (t Topics) DeviceCommand(node string) string {
	return fmt.Sprintf("%s/command/%s", t.root(), node)
}

// DeviceAck returns the acknowledgement topic for a device.
func (t Topics) DeviceAck(node string) string {
	return fmt.Sprintf("%s/ack/%s", t.root(), node)
}

// DeviceDiscovery returns the retained entity discovery topic for a device.
func (t Topics) DeviceDiscovery(node string) string {
	return fmt.Sprintf("%s/discovery/%s", t.root(), node)
}

// =============================================================================
// Bridge Topics
// =============================================================================

// BridgeHealth returns the retained health topic for a bridge instance.
func (t Topics) BridgeHealth(bridgeID string) string {
	return fmt.Sprintf("%s/health/%s", t.root(), bridgeID)
}

// Pairing returns the topic pairing flow transitions are published on.
func (t Topics) Pairing(flowID string) string {
	return fmt.Sprintf("%s/pairing/%s", t.root(), flowID)
}

// SystemStatus returns the bridge connection status topic (LWT target).
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.root())
}

// =============================================================================
// Wildcard Subscriptions
// =============================================================================

// AllGatewayResponses matches RPC responses for every device.
func (t Topics) AllGatewayResponses() string {
	return fmt.Sprintf("%s/ble/+/response", t.root())
}

// AllGatewayAuth matches authorization events for every device.
func (t Topics) AllGatewayAuth() string {
	return fmt.Sprintf("%s/ble/+/auth", t.root())
}

// AllDeviceCommands matches commands for every device.
func (t Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/+", t.root())
}
