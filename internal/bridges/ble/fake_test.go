package ble

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
	"github.com/DeKaN/ha-boneco/internal/device"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/config"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/influxdb"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/mqtt"
)

const testAddress = "AA:BB:CC:DD:EE:FF"

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

// publishedTo returns every message published on topic, oldest first.
func (m *MockMQTTClient) publishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers a message to the handler subscribed on
// subscription, passing topic as the concrete topic.
func (m *MockMQTTClient) SimulateMessage(subscription, topic string, payload []byte) error {
	m.mu.Lock()
	handler, ok := m.handlers[subscription]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return handler(topic, payload)
}

// fakeDeviceClient serves a fixed climate device and records writes.
type fakeDeviceClient struct {
	mu        sync.Mutex
	cred      boneco.Credential
	connected bool
	name      string
	info      boneco.DeviceInfo
	state     boneco.DeviceState
	fetchErr  error
	setStates []boneco.DeviceState
	closed    bool
}

func newFakeDeviceClient(cred boneco.Credential) *fakeDeviceClient {
	return &fakeDeviceClient{
		cred: cred,
		name: "Living room",
		info: boneco.DeviceInfo{
			Device: boneco.DeviceDescriptor{
				Model: "H700",
				Class: boneco.ClassTopClimate,
				OperatingModes: map[boneco.OperatingMode]boneco.ModeConfig{
					boneco.OperatingModeFan:        {boneco.ModeStatusCustom: true},
					boneco.OperatingModeHumidifier: {boneco.ModeStatusCustom: true, boneco.ModeStatusAuto: true},
				},
			},
			SerialNumber:    "SN-700",
			SoftwareVersion: "1.2.3",
			Temperature:     21,
			Humidity:        45,
		},
		state: boneco.DeviceState{
			Enabled:              true,
			FanLevel:             2,
			TargetHumidity:       50,
			OperatingMode:        boneco.OperatingModeHumidifier,
			MinLEDBrightness:     10,
			MaxLEDBrightness:     80,
			HasReminderCleanDate: true,
		},
	}
}

func (f *fakeDeviceClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeDeviceClient) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeDeviceClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeDeviceClient) Authorize(context.Context) error     { return nil }
func (f *fakeDeviceClient) AuthStates() <-chan boneco.AuthEvent { return nil }
func (f *fakeDeviceClient) Credential() boneco.Credential       { return f.cred }

func (f *fakeDeviceClient) DeviceName(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	return f.name, nil
}

func (f *fakeDeviceClient) DeviceInfo(context.Context) (boneco.DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info.Clone(), nil
}

func (f *fakeDeviceClient) State(context.Context) (boneco.DeviceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone(), nil
}

func (f *fakeDeviceClient) SetState(_ context.Context, state boneco.DeviceState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setStates = append(f.setStates, state.Clone())
	f.state = state.Clone()
	return nil
}

func (f *fakeDeviceClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeDeviceClient) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *fakeDeviceClient) writes() []boneco.DeviceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]boneco.DeviceState(nil), f.setStates...)
}

func (f *fakeDeviceClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFactory hands out one fakeDeviceClient per address.
type fakeFactory struct {
	mu      sync.Mutex
	clients map[string]*fakeDeviceClient
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{clients: make(map[string]*fakeDeviceClient)}
}

func (f *fakeFactory) NewClient(cred boneco.Credential) boneco.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := newFakeDeviceClient(cred)
	f.clients[cred.Address] = c
	return c
}

func (f *fakeFactory) client(address string) *fakeDeviceClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[address]
}

type fakeEntries struct {
	entries []device.Entry
}

func (f fakeEntries) ListEntries(context.Context) ([]device.Entry, error) {
	return f.entries, nil
}

type historyRecord struct {
	entryID string
	source  string
	snap    boneco.Snapshot
}

type fakeHistory struct {
	mu      sync.Mutex
	records []historyRecord
	pruned  []time.Duration
}

func (f *fakeHistory) RecordSnapshot(_ context.Context, entryID string, snap boneco.Snapshot, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, historyRecord{entryID: entryID, source: source, snap: snap})
	return nil
}

func (f *fakeHistory) PruneHistory(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, olderThan)
	return 0, nil
}

func (f *fakeHistory) get() ([]historyRecord, []time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]historyRecord(nil), f.records...), append([]time.Duration(nil), f.pruned...)
}

type fakeMetrics struct {
	mu       sync.Mutex
	samples  []influxdb.DeviceSample
	signals  []int
	outcomes []bool
}

func (f *fakeMetrics) WriteDeviceSample(s influxdb.DeviceSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, s)
}

func (f *fakeMetrics) WriteSignal(_ string, rssi int, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, rssi)
}

func (f *fakeMetrics) WriteOutcome(_ string, ok bool, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, ok)
}

func (f *fakeMetrics) get() ([]influxdb.DeviceSample, []int, []bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]influxdb.DeviceSample(nil), f.samples...),
		append([]int(nil), f.signals...),
		append([]bool(nil), f.outcomes...)
}

type fakeSignals struct {
	rssi int
}

func (f fakeSignals) Last(address string) (boneco.Advertisement, bool) {
	return boneco.Advertisement{Address: address, RSSI: f.rssi}, true
}

type fakeObserver struct {
	mu   sync.Mutex
	msgs []StateMessage
}

func (f *fakeObserver) DeviceUpdated(msg StateMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeObserver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func testConfig() *config.Config {
	return &config.Config{
		Bridge: config.BridgeConfig{ID: "test-bridge", HealthCheckInterval: 3600},
		Database: config.DatabaseConfig{
			HistoryRetentionDays: 7,
		},
		Coordinator: config.CoordinatorConfig{
			UpdateInterval: 3600,
			UpdateTimeout:  2,
			WriteCooldown:  10,
		},
	}
}

func testEntry() device.Entry {
	return device.Entry{
		ID:          "entry-1",
		UniqueID:    "aa:bb:cc:dd:ee:ff",
		Address:     testAddress,
		Key:         "secret",
		DeviceClass: boneco.ClassTopClimate,
		Title:       "H700",
	}
}

type testRig struct {
	bridge   *Bridge
	mqtt     *MockMQTTClient
	factory  *fakeFactory
	history  *fakeHistory
	metrics  *fakeMetrics
	observer *fakeObserver
	topics   mqtt.Topics
}

// newTestRig starts a bridge with one entry and waits for its first state.
func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		mqtt:     NewMockMQTTClient(),
		factory:  newFakeFactory(),
		history:  &fakeHistory{},
		metrics:  &fakeMetrics{},
		observer: &fakeObserver{},
		topics:   mqtt.NewTopics("boneco"),
	}
	b, err := NewBridge(BridgeOptions{
		Config:     testConfig(),
		Topics:     rig.topics,
		Version:    "test",
		MQTTClient: rig.mqtt,
		Clients:    rig.factory,
		Entries:    fakeEntries{entries: []device.Entry{testEntry()}},
		History:    rig.history,
		Metrics:    rig.metrics,
		Signals:    fakeSignals{rssi: -61},
		Observer:   rig.observer,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	rig.bridge = b
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	// Signals are exported last for each snapshot.
	if !waitFor(2*time.Second, func() bool {
		_, signals, _ := rig.metrics.get()
		return len(signals) > 0
	}) {
		t.Fatal("no snapshot published")
	}
	return rig
}

func (r *testRig) node() string {
	return mqtt.NodeID(testAddress)
}

func (r *testRig) states() []StateMessage {
	var out []StateMessage
	for _, p := range r.mqtt.publishedTo(r.topics.DeviceState(r.node())) {
		var msg StateMessage
		if len(p.Payload) == 0 || json.Unmarshal(p.Payload, &msg) != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (r *testRig) acks() []AckMessage {
	var out []AckMessage
	for _, p := range r.mqtt.publishedTo(r.topics.DeviceAck(r.node())) {
		var ack AckMessage
		if json.Unmarshal(p.Payload, &ack) == nil {
			out = append(out, ack)
		}
	}
	return out
}

func (r *testRig) sendCommand(t *testing.T, cmd CommandMessage) {
	t.Helper()
	payload, err := json.Marshal(cmd)
	if err != nil {
		t.Fatal(err)
	}
	err = r.mqtt.SimulateMessage(r.topics.AllDeviceCommands(), r.topics.DeviceCommand(r.node()), payload)
	if err != nil {
		t.Fatalf("command handler error = %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
