package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DeKaN/ha-boneco/internal/audit"
	"github.com/DeKaN/ha-boneco/internal/auth"
	"github.com/DeKaN/ha-boneco/internal/boneco"
	"github.com/DeKaN/ha-boneco/internal/bridges/ble"
	"github.com/DeKaN/ha-boneco/internal/device"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/config"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/logging"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/mqtt"
	"github.com/DeKaN/ha-boneco/internal/pairing"
)

const (
	testAddress = "AA:BB:CC:DD:EE:FF"
	testEntryID = "entry-1"
	testSecret  = "test-secret-key-at-least-32-characters-long"
	testIssuer  = "bonecod-test"
)

// fakeBridge is a hand-written DeviceBridge.
type fakeBridge struct {
	mu         sync.Mutex
	devices    map[string]ble.DeviceStatus
	executed   []ble.Command
	execErr    error
	refreshErr error
	refreshed  int
	removed    []string
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{devices: make(map[string]ble.DeviceStatus)}
}

func (b *fakeBridge) add(st ble.DeviceStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices[mqtt.NodeID(st.Entry.Address)] = st
}

func (b *fakeBridge) Devices() []ble.DeviceStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ble.DeviceStatus, 0, len(b.devices))
	for _, st := range b.devices {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b ble.DeviceStatus) int { return strings.Compare(a.Entry.Address, b.Entry.Address) })
	return out
}

func (b *fakeBridge) Device(address string) (ble.DeviceStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.devices[mqtt.NodeID(address)]
	if !ok {
		return ble.DeviceStatus{}, fmt.Errorf("%w: %s", ble.ErrDeviceNotFound, address)
	}
	return st, nil
}

func (b *fakeBridge) Execute(address string, cmd ble.Command) error {
	if _, err := b.Device(address); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.execErr != nil {
		return b.execErr
	}
	b.executed = append(b.executed, cmd)
	return nil
}

func (b *fakeBridge) Refresh(_ context.Context, address string) error {
	if _, err := b.Device(address); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshed++
	return b.refreshErr
}

func (b *fakeBridge) RemoveEntry(address string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	node := mqtt.NodeID(address)
	if _, ok := b.devices[node]; !ok {
		return fmt.Errorf("%w: %s", ble.ErrDeviceNotFound, address)
	}
	delete(b.devices, node)
	b.removed = append(b.removed, address)
	return nil
}

func (b *fakeBridge) DeviceCounts() ble.DeviceCounts {
	b.mu.Lock()
	defer b.mu.Unlock()
	counts := ble.DeviceCounts{Managed: len(b.devices)}
	for _, st := range b.devices {
		if st.Available {
			counts.Available++
		}
	}
	return counts
}

func (b *fakeBridge) commands() []ble.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.executed)
}

// fakeEntries is a hand-written EntryStore.
type fakeEntries struct {
	mu      sync.Mutex
	entries map[string]device.Entry
	deleted []string
}

func newFakeEntries(entries ...device.Entry) *fakeEntries {
	f := &fakeEntries{entries: make(map[string]device.Entry)}
	for _, e := range entries {
		f.entries[e.ID] = e
	}
	return f
}

func (f *fakeEntries) GetByAddress(_ context.Context, address string) (*device.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if mqtt.NodeID(e.Address) == mqtt.NodeID(address) {
			cp := e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", device.ErrEntryNotFound, address)
}

func (f *fakeEntries) DeleteEntry(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[id]; !ok {
		return device.ErrEntryNotFound
	}
	delete(f.entries, id)
	f.deleted = append(f.deleted, id)
	return nil
}

// fakeHistory is a hand-written HistoryReader.
type fakeHistory struct {
	mu        sync.Mutex
	entries   []device.HistoryEntry
	lastID    string
	lastLimit int
}

func (f *fakeHistory) GetHistory(_ context.Context, entryID string, limit int) ([]device.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastID = entryID
	f.lastLimit = limit
	var out []device.HistoryEntry
	for _, e := range f.entries {
		if e.EntryID == entryID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakePairing is a hand-written PairingService.
type fakePairing struct {
	mu         sync.Mutex
	discovered []pairing.Discovery
	flows      map[string]pairing.Status
	startErr   error
	retryErr   error
	started    []string
}

func newFakePairing() *fakePairing {
	return &fakePairing{flows: make(map[string]pairing.Status)}
}

func (p *fakePairing) Discovered(context.Context) ([]pairing.Discovery, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.discovered) == 0 {
		return nil, pairing.ErrNoDevicesFound
	}
	return slices.Clone(p.discovered), nil
}

func (p *fakePairing) StartFlow(_ context.Context, address string) (pairing.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return pairing.Status{}, p.startErr
	}
	st := pairing.Status{
		FlowID:    fmt.Sprintf("flow-%d", len(p.started)+1),
		Address:   address,
		State:     pairing.StateWaitingForPairingMode,
		Attempt:   1,
		UpdatedAt: time.Now(),
	}
	p.flows[st.FlowID] = st
	p.started = append(p.started, address)
	return st, nil
}

func (p *fakePairing) RetryFlow(id string) (pairing.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.flows[id]
	if !ok {
		return pairing.Status{}, pairing.ErrFlowNotFound
	}
	if p.retryErr != nil {
		return pairing.Status{}, p.retryErr
	}
	st.State = pairing.StateWaitingForPairingMode
	st.Attempt++
	p.flows[id] = st
	return st, nil
}

func (p *fakePairing) Cancel(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.flows[id]
	if !ok {
		return pairing.ErrFlowNotFound
	}
	if st.State.Final() {
		return pairing.ErrFlowFinished
	}
	st.State = pairing.StateAborted
	st.Reason = pairing.ReasonCancelled
	p.flows[id] = st
	return nil
}

func (p *fakePairing) FlowStatus(id string) (pairing.Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.flows[id]
	return st, ok
}

func (p *fakePairing) List() []pairing.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]pairing.Status, 0, len(p.flows))
	for _, st := range p.flows {
		out = append(out, st)
	}
	return out
}

// testRig bundles a server with its fakes.
// fakeAudit keeps records in memory, newest last.
type fakeAudit struct {
	mu      sync.Mutex
	records []audit.Record
	filters []audit.Filter
	err     error
}

func (f *fakeAudit) Create(_ context.Context, rec *audit.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeAudit) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.filters = append(f.filters, filter)
	out := []audit.Record{}
	for i := len(f.records) - 1; i >= 0; i-- {
		rec := f.records[i]
		if filter.Action != "" && rec.Action != filter.Action {
			continue
		}
		if filter.Address != "" && rec.Address != filter.Address {
			continue
		}
		out = append(out, rec)
	}
	return &audit.ListResult{Records: out, Total: len(out), Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (f *fakeAudit) snapshot() []audit.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.records)
}

type testRig struct {
	srv     *Server
	router  http.Handler
	bridge  *fakeBridge
	entries *fakeEntries
	history *fakeHistory
	pairing *fakePairing
	audit   *fakeAudit
}

func testEntry() device.Entry {
	return device.Entry{
		ID:          testEntryID,
		UniqueID:    "aa:bb:cc:dd:ee:ff",
		Address:     testAddress,
		Key:         "secret-key",
		DeviceClass: boneco.ClassTopClimate,
		Title:       "H700",
	}
}

// testServer creates a Server with one available device. An empty secret
// disables authentication.
func testServer(t *testing.T, secret string) *testRig {
	t.Helper()

	log := logging.Discard()
	now := time.Now()

	bridge := newFakeBridge()
	bridge.add(ble.DeviceStatus{
		Entry:      testEntry(),
		Available:  true,
		LastUpdate: &now,
		State:      map[string]any{"fan": 33, "child_lock": false},
	})

	rig := &testRig{
		bridge:  bridge,
		entries: newFakeEntries(testEntry()),
		history: &fakeHistory{},
		pairing: newFakePairing(),
		audit:   &fakeAudit{},
	}

	wsCfg := config.WebSocketConfig{
		MaxMessageSize: 8192,
		PingInterval:   30,
		PongTimeout:    10,
	}
	hub := NewHub(wsCfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: wsCfg,
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{
				Secret:         secret,
				Issuer:         testIssuer,
				AccessTokenTTL: 15,
			},
		},
		Logger:  log,
		Bridge:  rig.bridge,
		Entries: rig.entries,
		History: rig.history,
		Pairing: rig.pairing,
		Audit:   rig.audit,
		Hub:     hub,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	rig.srv = srv
	rig.router = srv.buildRouter()
	return rig
}

// do sends a request through the router. body may be empty.
func (r *testRig) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)
	return w
}

func mustToken(t *testing.T, role auth.Role) string {
	t.Helper()
	token, err := auth.GenerateAccessToken(auth.TokenOptions{
		Subject: "test-client",
		Role:    role,
		Issuer:  testIssuer,
		TTL:     time.Hour,
	}, testSecret)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return token
}
