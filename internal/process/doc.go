// Package process supervises the BLE gateway when the bridge runs it as a
// child process.
//
// The gateway owns the Bluetooth adapter and the vendor GATT codec; the
// bridge only talks to it over MQTT. Supervision is optional
// (gateway.process.managed) so the gateway can also run on another host
// closer to the devices.
//
// Features:
//   - Start/stop with SIGTERM to the process group, SIGKILL after a timeout
//   - Restart on failure with exponential backoff, reset after a stable run
//   - Fatal exit codes that stop the restart loop
//   - Liveness probing through the gateway's ping RPC
//   - Line-based capture of the gateway's stdout/stderr into the bridge log
//
// Example usage:
//
//	mgr := process.NewManager(process.GatewayConfig(cfg.Gateway.Process, gateway.Ping))
//	mgr.SetLogger(logger)
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
