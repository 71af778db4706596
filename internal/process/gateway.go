package process

import (
	"context"
	"time"

	"github.com/DeKaN/ha-boneco/internal/infrastructure/config"
)

// GatewayName is the process name used in logs.
const GatewayName = "ble-gateway"

// ExitNoAdapter is the exit code the gateway uses when no Bluetooth
// adapter is present. Restarting cannot fix that.
const ExitNoAdapter = 78

// GatewayConfig builds the supervisor config for the BLE gateway. ping,
// when non-nil, is used as the liveness probe.
func GatewayConfig(cfg config.GatewayProcessConfig, ping func(ctx context.Context) error) Config {
	pc := DefaultConfig(GatewayName, cfg.Binary, cfg.Args)
	pc.RestartOnFailure = cfg.RestartOnFailure
	if cfg.RestartDelaySeconds > 0 {
		pc.RestartDelay = time.Duration(cfg.RestartDelaySeconds) * time.Second
	}
	pc.MaxRestartAttempts = cfg.MaxRestartAttempts
	pc.FatalExitCodes = []int{ExitNoAdapter}
	pc.HealthCheckFunc = ping
	return pc
}
