package process

import (
	"context"
	"testing"
	"time"

	"github.com/DeKaN/ha-boneco/internal/infrastructure/config"
)

func TestGatewayConfig(t *testing.T) {
	pinged := false
	cfg := GatewayConfig(config.GatewayProcessConfig{
		Managed:             true,
		Binary:              "/usr/local/bin/boneco-ble-gateway",
		Args:                []string{"--adapter", "hci1"},
		RestartOnFailure:    true,
		RestartDelaySeconds: 3,
		MaxRestartAttempts:  7,
	}, func(context.Context) error {
		pinged = true
		return nil
	})

	if cfg.Name != GatewayName {
		t.Errorf("Name = %q, want %q", cfg.Name, GatewayName)
	}
	if cfg.Binary != "/usr/local/bin/boneco-ble-gateway" || len(cfg.Args) != 2 {
		t.Errorf("command = %s %v", cfg.Binary, cfg.Args)
	}
	if !cfg.RestartOnFailure || cfg.RestartDelay != 3*time.Second || cfg.MaxRestartAttempts != 7 {
		t.Errorf("restart policy = (%v, %v, %d)", cfg.RestartOnFailure, cfg.RestartDelay, cfg.MaxRestartAttempts)
	}
	if len(cfg.FatalExitCodes) != 1 || cfg.FatalExitCodes[0] != ExitNoAdapter {
		t.Errorf("FatalExitCodes = %v, want [%d]", cfg.FatalExitCodes, ExitNoAdapter)
	}
	if cfg.HealthCheckFunc == nil {
		t.Fatal("HealthCheckFunc not wired")
	}
	_ = cfg.HealthCheckFunc(context.Background())
	if !pinged {
		t.Error("HealthCheckFunc should call ping")
	}
}

func TestGatewayConfig_Defaults(t *testing.T) {
	cfg := GatewayConfig(config.GatewayProcessConfig{Binary: "/bin/gw"}, nil)

	if cfg.RestartOnFailure {
		t.Error("RestartOnFailure should follow config (false)")
	}
	if cfg.RestartDelay != defaultRestartDelay {
		t.Errorf("RestartDelay = %v, want %v", cfg.RestartDelay, defaultRestartDelay)
	}
	if cfg.MaxRestartAttempts != 0 {
		t.Errorf("MaxRestartAttempts = %d, want 0 (unlimited)", cfg.MaxRestartAttempts)
	}
	if cfg.HealthCheckFunc != nil {
		t.Error("nil ping should leave HealthCheckFunc unset")
	}
}
