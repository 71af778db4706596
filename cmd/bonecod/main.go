// bonecod bridges Boneco BLE air treatment devices onto MQTT.
//
// The bridge talks to the devices through an external BLE gateway over MQTT,
// pairs new devices, polls every paired device on a fixed interval and
// exposes their entities as MQTT topics, a REST API and a WebSocket feed.
//
// Usage:
//
//	bonecod                                   run the bridge
//	bonecod token -subject ha -role operator  mint an API access token
//
// The configuration path comes from BONECO_CONFIG, falling back to
// configs/config.yaml.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeKaN/ha-boneco/internal/api"
	"github.com/DeKaN/ha-boneco/internal/audit"
	"github.com/DeKaN/ha-boneco/internal/bleproxy"
	"github.com/DeKaN/ha-boneco/internal/boneco"
	"github.com/DeKaN/ha-boneco/internal/bridges/ble"
	"github.com/DeKaN/ha-boneco/internal/device"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/config"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/database"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/influxdb"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/logging"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/mqtt"
	"github.com/DeKaN/ha-boneco/internal/pairing"
	"github.com/DeKaN/ha-boneco/internal/process"
	"github.com/DeKaN/ha-boneco/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// minPruneInterval bounds how often stale advertisements are dropped.
const minPruneInterval = 10 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Boneco bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log, err = logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Close() //nolint:errcheck // nothing left to report to
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	models, err := boneco.NewModelTable(cfg.Models)
	if err != nil {
		return fmt.Errorf("building model table: %w", err)
	}

	// Database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("registry"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading entries: %w", refreshErr)
	}
	history := device.NewSQLiteHistoryRepository(db.DB)

	// MQTT
	topics := mqtt.NewTopics(cfg.Gateway.TopicPrefix)
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.OnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.OnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// BLE gateway
	gateway := bleproxy.NewGateway(mqttClient, topics, time.Duration(cfg.Gateway.RequestTimeout)*time.Second)
	gateway.SetLogger(log.Component("gateway"))
	if startErr := gateway.Start(); startErr != nil {
		return fmt.Errorf("starting gateway client: %w", startErr)
	}
	defer gateway.Stop()

	scanner := bleproxy.NewScanner(mqttClient, topics, time.Duration(cfg.Gateway.AdvertisementTTL)*time.Second)
	scanner.SetLogger(log.Component("scanner"))
	if startErr := scanner.Start(); startErr != nil {
		return fmt.Errorf("starting scanner: %w", startErr)
	}
	defer scanner.Stop()
	go pruneAdvertisements(ctx, scanner, time.Duration(cfg.Gateway.AdvertisementTTL)*time.Second)

	if cfg.Gateway.Process.Managed {
		gwProc := process.NewManager(process.GatewayConfig(cfg.Gateway.Process, gateway.Ping))
		gwProc.SetLogger(log.Component("process"))
		if startErr := gwProc.Start(ctx); startErr != nil {
			return fmt.Errorf("starting BLE gateway: %w", startErr)
		}
		defer func() {
			log.Info("stopping BLE gateway")
			if stopErr := gwProc.Stop(); stopErr != nil {
				log.Error("error stopping BLE gateway", "error", stopErr)
			}
		}()
		log.Info("BLE gateway started", "binary", cfg.Gateway.Process.Binary, "pid", gwProc.PID())
	}

	// WebSocket hub, shared by the bridge (device updates) and the API.
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
		go hub.Run(ctx)
	}

	bridge, err := startBridge(ctx, cfg, topics, mqttClient, gateway, scanner, registry, history, influxClient, hub, log)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	// Pairing
	pairingMgr := pairing.NewManager(scanner, gateway, &entryStore{registry: registry, bridge: bridge}, models, pairing.Config{
		PairingTimeout: time.Duration(cfg.Pairing.WaitForPairingTimeout) * time.Second,
		ConfirmTimeout: time.Duration(cfg.Pairing.WaitForConfirmPairingTimeout) * time.Second,
	})
	pairingMgr.SetLogger(log.Component("pairing"))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := pairingMgr.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error("error stopping pairing flows", "error", shutdownErr)
		}
	}()
	go forwardPairing(ctx, pairingMgr, mqttClient, topics, hub, log)

	// REST API
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Bridge:   bridge,
			Entries:  registry,
			History:  history,
			Pairing:  api.NewPairingService(pairingMgr),
			Audit:    audit.NewSQLiteRepository(db.DB),
			Hub:      hub,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, pairing, bridge, gateway process,
	// scanner, gateway client, InfluxDB, MQTT, database.
	log.Info("Boneco bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BONECO_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BONECO_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// startBridge builds the device bridge and starts a coordinator for every
// persisted entry. Optional collaborators are only set when present so the
// bridge never sees a typed nil.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	topics mqtt.Topics,
	mqttClient *mqtt.Client,
	gateway *bleproxy.Gateway,
	scanner *bleproxy.Scanner,
	registry *device.Registry,
	history *device.SQLiteHistoryRepository,
	influxClient *influxdb.Client,
	hub *api.Hub,
	log *logging.Logger,
) (*ble.Bridge, error) {
	opts := ble.BridgeOptions{
		Config:     cfg,
		Topics:     topics,
		Version:    version,
		MQTTClient: mqttClient,
		Clients:    gateway,
		Entries:    registry,
		History:    history,
		Signals:    scanner,
		Logger:     log.Component("bridge"),
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}
	if hub != nil {
		opts.Observer = hub
	}

	bridge, err := ble.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return nil, err
	}
	counts := bridge.DeviceCounts()
	log.Info("bridge started", "devices", counts.Managed, "bridge_id", cfg.Bridge.ID)
	return bridge, nil
}

// entryStore persists a completed pairing flow and hands the new entry to
// the running bridge.
type entryStore struct {
	registry *device.Registry
	bridge   *ble.Bridge
}

// IsConfigured implements pairing.EntryStore.
func (s *entryStore) IsConfigured(ctx context.Context, uniqueID string) (bool, error) {
	return s.registry.IsConfigured(ctx, uniqueID)
}

// CreateEntry implements pairing.EntryStore.
func (s *entryStore) CreateEntry(ctx context.Context, data pairing.EntryData) (string, error) {
	entry := &device.Entry{
		UniqueID:    data.UniqueID,
		Address:     data.Address,
		Key:         data.Key,
		DeviceClass: data.DeviceClass,
		Title:       data.Title,
	}
	if err := s.registry.CreateEntry(ctx, entry); err != nil {
		return "", err
	}
	// The entry is persisted; a bridge that is shutting down picks it up
	// on the next start.
	if err := s.bridge.AddEntry(*entry); err != nil && !errors.Is(err, ble.ErrStopped) {
		return entry.ID, fmt.Errorf("starting device %s: %w", entry.Address, err)
	}
	return entry.ID, nil
}

// forwardPairing publishes every flow transition on MQTT and the WebSocket
// hub until ctx is cancelled.
func forwardPairing(ctx context.Context, mgr *pairing.Manager, mqttClient *mqtt.Client, topics mqtt.Topics, hub *api.Hub, log *logging.Logger) {
	updates, stop := mgr.Watch()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := mqttClient.PublishJSON(topics.Pairing(st.FlowID), st, false); err != nil {
				log.Warn("failed to publish pairing status", "flow_id", st.FlowID, "error", err)
			}
			if hub != nil {
				hub.PairingUpdated(st)
			}
		}
	}
}

// pruneAdvertisements drops advertisements older than ttl until ctx is done.
func pruneAdvertisements(ctx context.Context, scanner *bleproxy.Scanner, ttl time.Duration) {
	interval := max(ttl/2, minPruneInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scanner.Prune()
		}
	}
}
