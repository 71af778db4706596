// Package mqtt provides MQTT client connectivity for the Boneco bridge.
//
// MQTT is used twice: as the link to the BLE gateway (advertisements and
// request/response RPC) and as the bridge's public state/command surface.
//
//	BLE gateway ↔ MQTT broker ↔ Boneco bridge ↔ MQTT broker ↔ home automation
//
// The client adds reconnect-safe subscription tracking, panic recovery in
// handlers, a retained LWT on {prefix}/system/status, and payload validation.
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.Gateway.TopicPrefix)
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllDeviceCommands(), 1, handler)
//	err = client.PublishJSON(topics.DeviceState(mqtt.NodeID(addr)), msg, true)
package mqtt
