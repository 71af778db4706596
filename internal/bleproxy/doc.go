// Package bleproxy implements the boneco protocol client on top of an
// external BLE gateway reached over MQTT.
//
// The gateway owns the Bluetooth adapter and the vendor GATT codec. This
// package speaks a small JSON RPC with it:
//
//	{prefix}/ble/{node}/request     {"id", "op", "address", "key", "state"}
//	{prefix}/ble/{node}/response    {"id", "ok", "result", "error": {"code", "message"}}
//	{prefix}/ble/{node}/auth        {"state", "level", "key"}
//	{prefix}/ble/advertisement      {"address", "name", "rssi", "manufacturer_data"}
//
// Each request carries a UUID correlation id. A request with no response
// within the request timeout fails with boneco.ErrConnection; gateway error
// codes map onto boneco.ErrConnection, ErrProtocol and ErrAuthorization
// through GatewayError.
//
// Scanner keeps the latest advertisement per address for discovery and
// signal strength, and streams new ones to address-filtered subscribers.
package bleproxy
