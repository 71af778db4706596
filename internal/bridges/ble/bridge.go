package ble

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
	"github.com/DeKaN/ha-boneco/internal/coordinator"
	"github.com/DeKaN/ha-boneco/internal/device"
	"github.com/DeKaN/ha-boneco/internal/entity"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/config"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/influxdb"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// shutdownTimeout bounds each coordinator shutdown in Stop.
	shutdownTimeout = 5 * time.Second

	// historyTimeout bounds one history write.
	historyTimeout = 5 * time.Second

	// pruneInterval is how often old snapshot history is deleted.
	pruneInterval = time.Hour
)

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MQTTClient is the subset of the MQTT client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// EntrySource lists the persisted entries to run on Start.
// This interface is satisfied by *device.Registry.
type EntrySource interface {
	ListEntries(ctx context.Context) ([]device.Entry, error)
}

// HistoryStore records snapshots. Satisfied by *device.SQLiteHistoryRepository.
type HistoryStore interface {
	RecordSnapshot(ctx context.Context, entryID string, snapshot boneco.Snapshot, source string) error
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MetricsWriter exports time series. Satisfied by *influxdb.Client.
type MetricsWriter interface {
	WriteDeviceSample(sample influxdb.DeviceSample)
	WriteSignal(address string, rssi int, at time.Time)
	WriteOutcome(address string, ok bool, at time.Time)
}

// SignalSource returns the last advertisement seen for an address.
// Satisfied by *bleproxy.Scanner.
type SignalSource interface {
	Last(address string) (boneco.Advertisement, bool)
}

// Observer is notified of every published state message.
type Observer interface {
	DeviceUpdated(msg StateMessage)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded service configuration.
	Config *config.Config

	// Topics builds the MQTT topic names.
	Topics mqtt.Topics

	// Version is reported in health messages.
	Version string

	MQTTClient MQTTClient

	// Clients builds one protocol client per entry.
	Clients boneco.ClientFactory

	// Entries, History, Metrics, Signals and Observer are optional.
	Entries  EntrySource
	History  HistoryStore
	Metrics  MetricsWriter
	Signals  SignalSource
	Observer Observer

	Logger Logger
}

// managedDevice is one running entry.
type managedDevice struct {
	entry  device.Entry
	node   string
	client boneco.Client
	coord  *coordinator.Coordinator

	mu sync.Mutex
	// keys are the entity keys last announced on the discovery topic.
	keys []string
	// known is false until the first poll outcome was published.
	known     bool
	available bool
}

// Bridge runs one coordinator per paired device and translates between
// coordinator snapshots and the MQTT surface.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       *config.Config
	topics    mqtt.Topics
	mqtt      MQTTClient
	clients   boneco.ClientFactory
	entries   EntrySource
	history   HistoryStore
	metrics   MetricsWriter
	signals   SignalSource
	observer  Observer
	health    *HealthReporter
	coordOpts coordinator.Options
	retention time.Duration
	now       func() time.Time

	devices   map[string]*managedDevice
	devicesMu sync.RWMutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

var _ coordinator.Listener = (*Bridge)(nil)

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Clients == nil {
		return nil, fmt.Errorf("client factory is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	cfg := opts.Config
	b := &Bridge{
		cfg:      cfg,
		topics:   opts.Topics,
		mqtt:     opts.MQTTClient,
		clients:  opts.Clients,
		entries:  opts.Entries,
		history:  opts.History,
		metrics:  opts.Metrics,
		signals:  opts.Signals,
		observer: opts.Observer,
		coordOpts: coordinator.Options{
			UpdateInterval: cfg.PollInterval(),
			UpdateTimeout:  cfg.PollTimeout(),
			WriteCooldown:  cfg.WriteCooldown(),
		},
		retention: time.Duration(cfg.Database.HistoryRetentionDays) * 24 * time.Hour,
		now:       time.Now,
		devices:   make(map[string]*managedDevice),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  cfg.Bridge.ID,
		Version:   opts.Version,
		Topic:     opts.Topics.BridgeHealth(cfg.Bridge.ID),
		Interval:  time.Duration(cfg.Bridge.HealthCheckInterval) * time.Second,
		Publisher: opts.MQTTClient,
		Devices:   b,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to device commands, starts a coordinator for every
// persisted entry and begins health reporting. Coordinators start in the
// background; an unreachable device does not fail Start.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := b.topics.AllDeviceCommands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.loadEntries(ctx)

	b.health.Start(ctx)

	if b.history != nil && b.retention > 0 {
		b.wg.Add(1)
		go b.pruneLoop()
	}

	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"devices", b.DeviceCounts().Managed)
	return nil
}

// Stop shuts down every coordinator and stops health reporting.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight first refreshes
		b.ctxCancel()

		b.devicesMu.Lock()
		devices := make([]*managedDevice, 0, len(b.devices))
		for _, d := range b.devices {
			devices = append(devices, d)
		}
		b.devices = make(map[string]*managedDevice)
		b.devicesMu.Unlock()

		for _, d := range devices {
			b.shutdownDevice(d)
		}

		b.health.Stop()
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

func (b *Bridge) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// loadEntries starts a coordinator for every persisted entry.
func (b *Bridge) loadEntries(ctx context.Context) {
	if b.entries == nil {
		return
	}

	entries, err := b.entries.ListEntries(ctx)
	if err != nil {
		b.logError("failed to load entries", err)
		return
	}

	loaded := 0
	for _, e := range entries {
		if err := b.AddEntry(e); err != nil {
			b.logError("failed to start device", fmt.Errorf("%s: %w", e.Address, err))
			continue
		}
		loaded++
	}
	if loaded > 0 {
		b.logInfo("loaded entries", "count", loaded)
	}
}

// AddEntry starts a coordinator for entry. The first refresh runs in the
// background; its snapshot is published when it arrives.
func (b *Bridge) AddEntry(entry device.Entry) error {
	node := mqtt.NodeID(entry.Address)

	b.devicesMu.Lock()
	if b.stopped() {
		b.devicesMu.Unlock()
		return ErrStopped
	}
	if _, exists := b.devices[node]; exists {
		b.devicesMu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceExists, entry.Address)
	}

	opts := b.coordOpts
	opts.Listener = b
	if logger := b.getLogger(); logger != nil {
		opts.Logger = logger
	}
	client := b.clients.NewClient(entry.Credential())
	d := &managedDevice{
		entry:  entry,
		node:   node,
		client: client,
		coord:  coordinator.New(entry.Address, client, opts),
	}
	b.devices[node] = d
	b.wg.Add(1)
	b.devicesMu.Unlock()

	go func() {
		defer b.wg.Done()
		if err := d.coord.Start(b.ctx); err != nil {
			b.logWarn("device not ready, will retry on next poll",
				"address", entry.Address, "error", err)
		}
	}()

	b.logInfo("device added", "address", entry.Address, "device_class", entry.DeviceClass)
	return nil
}

// RemoveEntry stops the coordinator for address and clears its retained
// state and discovery messages.
func (b *Bridge) RemoveEntry(address string) error {
	node := mqtt.NodeID(address)

	b.devicesMu.Lock()
	d, ok := b.devices[node]
	delete(b.devices, node)
	b.devicesMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}

	b.shutdownDevice(d)

	// An empty retained payload deletes the retained message.
	for _, topic := range []string{b.topics.DeviceState(node), b.topics.DeviceDiscovery(node)} {
		if err := b.mqtt.Publish(topic, nil, 1, true); err != nil {
			b.logError("failed to clear retained message", err)
		}
	}

	b.logInfo("device removed", "address", d.entry.Address)
	return nil
}

func (b *Bridge) shutdownDevice(d *managedDevice) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.coord.Shutdown(ctx); err != nil {
		b.logWarn("coordinator shutdown incomplete", "address", d.entry.Address, "error", err)
	}
	if c, ok := d.client.(interface{ Close() }); ok {
		c.Close()
	}
}

func (b *Bridge) device(address string) (*managedDevice, error) {
	b.devicesMu.RLock()
	d, ok := b.devices[mqtt.NodeID(address)]
	b.devicesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}
	return d, nil
}

// DeviceCounts returns how many devices run and how many are reachable.
func (b *Bridge) DeviceCounts() DeviceCounts {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()
	counts := DeviceCounts{Managed: len(b.devices)}
	for _, d := range b.devices {
		if d.coord.Available() {
			counts.Available++
		}
	}
	return counts
}

// Coordinator returns the coordinator of a managed device.
func (b *Bridge) Coordinator(address string) (*coordinator.Coordinator, error) {
	d, err := b.device(address)
	if err != nil {
		return nil, err
	}
	return d.coord, nil
}

// Refresh polls a device now.
func (b *Bridge) Refresh(ctx context.Context, address string) error {
	d, err := b.device(address)
	if err != nil {
		return err
	}
	return d.coord.Refresh(ctx)
}

// =============================================================================
// Coordinator events
// =============================================================================

func (b *Bridge) input(d *managedDevice, snap boneco.Snapshot) entity.Input {
	in := entity.Input{Class: d.entry.DeviceClass, Snapshot: snap}
	if b.signals != nil {
		if adv, ok := b.signals.Last(d.entry.Address); ok {
			rssi := adv.RSSI
			in.RSSI = &rssi
		}
	}
	return in
}

// OnSnapshot publishes state (and discovery when the entity set changed),
// records history and exports metrics.
func (b *Bridge) OnSnapshot(address string, snap boneco.Snapshot) {
	d, err := b.device(address)
	if err != nil {
		return
	}

	in := b.input(d, snap)
	entities := entity.Setup(in)
	keys := make([]string, len(entities))
	for i, e := range entities {
		keys[i] = e.Key()
	}

	d.mu.Lock()
	announce := !slices.Equal(d.keys, keys)
	d.keys = keys
	d.known, d.available = true, true
	d.mu.Unlock()

	if announce {
		b.publishDiscovery(d, in, entities)
	}

	msg := StateMessage{
		Address:     d.entry.Address,
		Name:        snap.Name,
		DeviceClass: d.entry.DeviceClass,
		Timestamp:   snap.FetchedAt.UTC(),
		Available:   true,
		State:       entity.Values(entities, in),
	}
	b.publishState(d, msg)

	b.recordHistory(d, snap, device.HistorySourcePoll)
	b.exportSample(d, in, msg)
}

// OnFetchFailed publishes an unavailable state when availability changes.
func (b *Bridge) OnFetchFailed(address string, err error) {
	d, lookupErr := b.device(address)
	if lookupErr != nil {
		return
	}

	d.mu.Lock()
	changed := !d.known || d.available
	d.known, d.available = true, false
	d.mu.Unlock()

	if !changed {
		return
	}

	msg := StateMessage{
		Address:     d.entry.Address,
		Name:        d.entry.Title,
		DeviceClass: d.entry.DeviceClass,
		Timestamp:   b.now().UTC(),
		Available:   false,
		State:       map[string]any{},
		Error:       err.Error(),
	}
	if snap, ok := d.coord.Snapshot(); ok {
		in := b.input(d, snap)
		msg.Name = snap.Name
		msg.State = entity.Values(entity.Setup(in), in)
	}
	b.publishState(d, msg)
}

// OnWriteFailed records the failed write. The state is not retried; the
// next poll publishes what the device actually holds.
func (b *Bridge) OnWriteFailed(address string, _ boneco.DeviceState, err error) {
	b.logWarn("device write failed", "address", address, "error", err)
	if b.metrics != nil {
		b.metrics.WriteOutcome(address, false, b.now())
	}
}

// OnWritten records the written state in history.
func (b *Bridge) OnWritten(address string, state boneco.DeviceState) {
	if b.metrics != nil {
		b.metrics.WriteOutcome(address, true, b.now())
	}
	d, err := b.device(address)
	if err != nil {
		return
	}
	snap, ok := d.coord.Snapshot()
	if !ok {
		return
	}
	snap.State = state
	snap.FetchedAt = b.now()
	b.recordHistory(d, snap, device.HistorySourceWrite)
}

func (b *Bridge) publishState(d *managedDevice, msg StateMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.DeviceState(d.node), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}
	if b.observer != nil {
		b.observer.DeviceUpdated(msg)
	}
}

func (b *Bridge) publishDiscovery(d *managedDevice, in entity.Input, entities []entity.Entity) {
	msg := DiscoveryMessage{
		Address:   d.entry.Address,
		Timestamp: b.now().UTC(),
		Device:    NewDeviceMetadata(d.entry.DeviceClass, in.Snapshot),
		Entities:  make([]entity.Description, 0, len(entities)),
	}
	for _, e := range entities {
		msg.Entities = append(msg.Entities, entity.Describe(e, in))
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.DeviceDiscovery(d.node), payload, 1, true); err != nil {
		b.logError("failed to publish discovery", err)
		return
	}
	b.logDebug("published discovery", "address", d.entry.Address, "entities", len(entities))
}

func (b *Bridge) recordHistory(d *managedDevice, snap boneco.Snapshot, source string) {
	if b.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, historyTimeout)
	defer cancel()
	if err := b.history.RecordSnapshot(ctx, d.entry.ID, snap, source); err != nil {
		b.logError("failed to record snapshot history", err)
	}
}

// exportSample writes numeric and boolean entity values as one sample.
func (b *Bridge) exportSample(d *managedDevice, in entity.Input, msg StateMessage) {
	if b.metrics == nil {
		return
	}
	fields := make(map[string]interface{}, len(msg.State))
	for key, value := range msg.State {
		switch v := value.(type) {
		case int, bool, float64:
			fields[key] = v
		}
	}
	b.metrics.WriteDeviceSample(influxdb.DeviceSample{
		Address:     d.entry.Address,
		DeviceClass: string(d.entry.DeviceClass),
		Name:        msg.Name,
		Fields:      fields,
		Time:        msg.Timestamp,
	})
	if in.RSSI != nil {
		b.metrics.WriteSignal(d.entry.Address, *in.RSSI, msg.Timestamp)
	}
}

func (b *Bridge) pruneLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		b.pruneHistory()
		select {
		case <-b.done:
			return
		case <-ticker.C:
		}
	}
}

func (b *Bridge) pruneHistory() {
	ctx, cancel := context.WithTimeout(b.ctx, historyTimeout)
	defer cancel()
	removed, err := b.history.PruneHistory(ctx, b.retention)
	if err != nil {
		b.logError("failed to prune snapshot history", err)
		return
	}
	if removed > 0 {
		b.logInfo("pruned snapshot history", "rows", removed)
	}
}

// =============================================================================
// Commands
// =============================================================================

// Command changes one entity: a value write, or a button press when Action
// is ActionPress.
type Command struct {
	Entity string
	Value  any
	Action string
}

// Execute validates cmd against the latest snapshot and queues the write
// on the device coordinator. A nil error means the write was queued, not
// that it reached the device.
func (b *Bridge) Execute(address string, cmd Command) error {
	d, err := b.device(address)
	if err != nil {
		return err
	}

	snap, ok := d.coord.Snapshot()
	if !ok {
		return fmt.Errorf("%s: %w", d.entry.Address, coordinator.ErrNoData)
	}
	in := b.input(d, snap)
	e, err := entity.Find(entity.Setup(in), cmd.Entity)
	if err != nil {
		return err
	}

	var transform func(*boneco.DeviceState)
	switch cmd.Action {
	case "":
		current := snap.State
		if pending, ok := d.coord.PendingState(); ok {
			current = pending
		}
		transform, err = entity.WriteIntent(e, in, current, cmd.Value)
	case ActionPress:
		transform, err = entity.PressIntent(e, b.now())
	default:
		err = fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, cmd.Action)
	}
	if err != nil {
		return err
	}

	return d.coord.UpdateState(transform)
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	node := b.topics.NodeFromTopic(topic)
	if node == "" || !strings.HasPrefix(topic, b.topics.DeviceCommand("")) {
		return fmt.Errorf("unexpected topic %q", topic)
	}
	return b.handleCommand(node, payload)
}

// handleCommand executes a command and publishes its acknowledgement.
func (b *Bridge) handleCommand(node string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parse command: %w", err)
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"node", node,
		"entity", cmd.Entity,
		"action", cmd.Action)

	address := node
	if d, err := b.device(node); err == nil {
		address = d.entry.Address
	}

	if err := b.Execute(node, cmd.Command()); err != nil {
		b.publishAck(node, NewAckError(cmd, address, err))
		b.logWarn("command rejected", "command_id", cmd.ID, "address", address, "error", err)
		return nil
	}
	b.publishAck(node, NewAckMessage(cmd, address))
	return nil
}

func (b *Bridge) publishAck(node string, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.DeviceAck(node), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// =============================================================================
// Status
// =============================================================================

// DeviceStatus is the bridge view of one managed device.
type DeviceStatus struct {
	Entry        device.Entry         `json:"entry"`
	Available    bool                 `json:"available"`
	LastUpdate   *time.Time           `json:"last_update,omitempty"`
	LastError    string               `json:"last_error,omitempty"`
	PendingWrite bool                 `json:"pending_write"`
	Device       *DeviceMetadata      `json:"device,omitempty"`
	State        map[string]any       `json:"state,omitempty"`
	Entities     []entity.Description `json:"entities,omitempty"`
}

// Device returns the status of one managed device.
func (b *Bridge) Device(address string) (DeviceStatus, error) {
	d, err := b.device(address)
	if err != nil {
		return DeviceStatus{}, err
	}
	return b.status(d), nil
}

// Devices returns the status of every managed device, sorted by address.
func (b *Bridge) Devices() []DeviceStatus {
	b.devicesMu.RLock()
	devices := make([]*managedDevice, 0, len(b.devices))
	for _, d := range b.devices {
		devices = append(devices, d)
	}
	b.devicesMu.RUnlock()

	out := make([]DeviceStatus, 0, len(devices))
	for _, d := range devices {
		out = append(out, b.status(d))
	}
	slices.SortFunc(out, func(x, y DeviceStatus) int {
		return strings.Compare(x.Entry.Address, y.Entry.Address)
	})
	return out
}

func (b *Bridge) status(d *managedDevice) DeviceStatus {
	st := DeviceStatus{
		Entry:     d.entry,
		Available: d.coord.Available(),
	}
	if err := d.coord.LastError(); err != nil {
		st.LastError = err.Error()
	}
	_, st.PendingWrite = d.coord.PendingState()

	snap, ok := d.coord.Snapshot()
	if !ok {
		return st
	}
	last := d.coord.LastUpdate()
	st.LastUpdate = &last
	meta := NewDeviceMetadata(d.entry.DeviceClass, snap)
	st.Device = &meta

	in := b.input(d, snap)
	entities := entity.Setup(in)
	st.State = entity.Values(entities, in)
	st.Entities = make([]entity.Description, 0, len(entities))
	for _, e := range entities {
		st.Entities = append(st.Entities, entity.Describe(e, in))
	}
	return st
}

// =============================================================================
// Logging
// =============================================================================

// SetLogger sets the logger for the bridge. Coordinators started afterwards
// use it too.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
