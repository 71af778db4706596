package pairing

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

// Default wait bounds.
const (
	DefaultPairingTimeout = 30 * time.Second
	DefaultConfirmTimeout = 30 * time.Second

	finishedRetention = 10 * time.Minute
	watchBufferSize   = 32
)

// AdvertisementSource supplies scanned advertisements.
type AdvertisementSource interface {
	Last(address string) (boneco.Advertisement, bool)
	Discovered() []boneco.Advertisement
	Subscribe(address string) (<-chan boneco.Advertisement, func())
}

// EntryData is what a completed flow persists.
type EntryData struct {
	UniqueID    string
	Address     string
	Key         string
	DeviceClass boneco.DeviceClass
	Title       string
}

// EntryStore persists completed flows.
type EntryStore interface {
	IsConfigured(ctx context.Context, uniqueID string) (bool, error)
	CreateEntry(ctx context.Context, data EntryData) (string, error)
}

// Logger is the logging interface used by the package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config bounds the two pairing waits.
type Config struct {
	PairingTimeout time.Duration
	ConfirmTimeout time.Duration
}

// Manager owns the pairing flows, keyed by UUID flow id.
type Manager struct {
	source  AdvertisementSource
	clients boneco.ClientFactory
	store   EntryStore
	models  *boneco.ModelTable
	cfg     Config
	logger  Logger

	mu       sync.Mutex
	flows    map[string]*Flow
	watchers map[int]chan Status
	nextW    int
	closed   bool
	wg       sync.WaitGroup
}

// NewManager creates a manager. A nil model table uses the built-in one.
func NewManager(source AdvertisementSource, clients boneco.ClientFactory, store EntryStore, models *boneco.ModelTable, cfg Config) *Manager {
	if cfg.PairingTimeout <= 0 {
		cfg.PairingTimeout = DefaultPairingTimeout
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if models == nil {
		models = boneco.DefaultModelTable()
	}
	return &Manager{
		source:   source,
		clients:  clients,
		store:    store,
		models:   models,
		cfg:      cfg,
		logger:   noopLogger{},
		flows:    make(map[string]*Flow),
		watchers: make(map[int]chan Status),
	}
}

// SetLogger sets the logger.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// Discovered lists family devices currently advertising that are neither
// configured nor in an active flow, one per address.
func (m *Manager) Discovered(ctx context.Context) ([]Discovery, error) {
	seen := make(map[string]bool)
	var out []Discovery
	for _, adv := range m.source.Discovered() {
		rec, ok := adv.Record()
		if !ok || !rec.IsBonecoDevice || seen[adv.Address] {
			continue
		}
		seen[adv.Address] = true

		uid, err := boneco.FormatMAC(adv.Address)
		if err != nil {
			continue
		}
		configured, err := m.store.IsConfigured(ctx, uid)
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", adv.Address, err)
		}
		if configured || m.activeFlowFor(adv.Address) != nil {
			continue
		}
		out = append(out, Discovery{
			Address:       adv.Address,
			Name:          adv.Name,
			Label:         boneco.DiscoveryLabel(adv.Name, adv.Address),
			RSSI:          adv.RSSI,
			PairingActive: rec.PairingActive,
		})
	}
	slices.SortFunc(out, func(a, b Discovery) int { return strings.Compare(a.Address, b.Address) })
	if len(out) == 0 {
		return nil, ErrNoDevicesFound
	}
	return out, nil
}

// Start confirms pairing with a discovered address and runs the flow in the
// background. Progress is observable through the flow's Status and Watch.
func (m *Manager) Start(ctx context.Context, address string) (*Flow, error) {
	addr, err := boneco.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	uid, _ := boneco.FormatMAC(addr)

	configured, err := m.store.IsConfigured(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", addr, err)
	}
	if configured {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConfigured, addr)
	}

	adv, ok := m.source.Last(addr)
	if !ok || !adv.IsBoneco() {
		return nil, fmt.Errorf("%w: %s", ErrNotDiscovered, addr)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrFlowFinished
	}
	m.pruneLocked()
	for _, f := range m.flows {
		if f.address == addr && !f.Status().State.Final() {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrFlowInProgress, addr)
		}
	}
	f := newFlow(m, uuid.NewString(), adv)
	m.flows[f.id] = f
	m.mu.Unlock()

	f.setState(StateDiscovered, nil)
	f.setState(StateConfirmPending, nil)
	f.launch(!adv.InPairingMode())
	return f, nil
}

// Retry restarts a flow in PairingTimeout or ConfirmTimeout from the wait
// for pairing mode.
func (m *Manager) Retry(id string) (*Flow, error) {
	f, ok := m.Get(id)
	if !ok {
		return nil, ErrFlowNotFound
	}
	if err := f.retry(); err != nil {
		return nil, err
	}
	return f, nil
}

// Cancel aborts a flow.
func (m *Manager) Cancel(id string) error {
	f, ok := m.Get(id)
	if !ok {
		return ErrFlowNotFound
	}
	return f.cancel()
}

// Get returns a flow by id.
func (m *Manager) Get(id string) (*Flow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flows[id]
	return f, ok
}

// List returns the status of every known flow, newest first.
func (m *Manager) List() []Status {
	m.mu.Lock()
	m.pruneLocked()
	flows := make([]*Flow, 0, len(m.flows))
	for _, f := range m.flows {
		flows = append(flows, f)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(flows))
	for _, f := range flows {
		out = append(out, f.Status())
	}
	slices.SortFunc(out, func(a, b Status) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out
}

// Watch streams status changes of every flow. Slow watchers miss updates.
func (m *Manager) Watch() (<-chan Status, func()) {
	ch := make(chan Status, watchBufferSize)
	m.mu.Lock()
	id := m.nextW
	m.nextW++
	m.watchers[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.watchers[id]; ok {
				delete(m.watchers, id)
				close(ch)
			}
		})
	}
}

// Shutdown cancels active flows and waits for them to stop.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	flows := make([]*Flow, 0, len(m.flows))
	for _, f := range m.flows {
		flows = append(flows, f)
	}
	m.mu.Unlock()

	for _, f := range flows {
		_ = f.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.watchers {
		close(ch)
		delete(m.watchers, id)
	}
	return nil
}

func (m *Manager) activeFlowFor(address string) *Flow {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.flows {
		if f.address == address && !f.Status().State.Final() {
			return f
		}
	}
	return nil
}

func (m *Manager) pruneLocked() {
	cutoff := time.Now().Add(-finishedRetention)
	for id, f := range m.flows {
		st := f.Status()
		if st.State.Final() && st.UpdatedAt.Before(cutoff) {
			delete(m.flows, id)
		}
	}
}

func (m *Manager) broadcast(st Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.watchers {
		select {
		case ch <- st:
		default:
			m.logger.Debug("pairing watcher full, dropping update", "flow_id", st.FlowID)
		}
	}
}

func (m *Manager) getLogger() Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logger
}
