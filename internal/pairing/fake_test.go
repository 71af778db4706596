package pairing

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

const testCompanyID = 0x0610

func advertisement(address, name string, pairing bool) boneco.Advertisement {
	return boneco.Advertisement{
		Address:          address,
		Name:             name,
		RSSI:             -60,
		Connectable:      true,
		ManufacturerData: map[uint16][]byte{testCompanyID: boneco.EncodeManufacturerPayload(pairing)},
		SeenAt:           time.Now(),
	}
}

// fakeSource is an in-memory AdvertisementSource.
type fakeSource struct {
	mu   sync.Mutex
	last map[string]boneco.Advertisement
	subs map[string][]chan boneco.Advertisement
}

func newFakeSource(advs ...boneco.Advertisement) *fakeSource {
	s := &fakeSource{
		last: make(map[string]boneco.Advertisement),
		subs: make(map[string][]chan boneco.Advertisement),
	}
	for _, adv := range advs {
		s.last[adv.Address] = adv
	}
	return s
}

func (s *fakeSource) Last(address string) (boneco.Advertisement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	adv, ok := s.last[address]
	return adv, ok
}

func (s *fakeSource) Discovered() []boneco.Advertisement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]boneco.Advertisement, 0, len(s.last))
	for _, adv := range s.last {
		out = append(out, adv)
	}
	return out
}

func (s *fakeSource) Subscribe(address string) (<-chan boneco.Advertisement, func()) {
	ch := make(chan boneco.Advertisement, 8)
	s.mu.Lock()
	s.subs[address] = append(s.subs[address], ch)
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			subs := s.subs[address]
			for i, c := range subs {
				if c == ch {
					s.subs[address] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *fakeSource) subscribers(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[address])
}

func (s *fakeSource) push(adv boneco.Advertisement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[adv.Address] = adv
	for _, ch := range s.subs[adv.Address] {
		ch <- adv
	}
}

// fakeClient confirms authorization according to its settings.
type fakeClient struct {
	mu          sync.Mutex
	cred        boneco.Credential
	connected   bool
	connects    int
	disconnects int
	authorizes  int
	closed      bool

	connectErr error
	confirm    bool
	key        string

	events chan boneco.AuthEvent
}

func (c *fakeClient) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	if !c.connected {
		c.connected = true
		c.connects++
	}
	return nil
}

func (c *fakeClient) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		c.connected = false
		c.disconnects++
	}
	return nil
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Authorize(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorizes++
	if !c.connected {
		return boneco.ErrProtocol
	}
	c.events <- boneco.AuthEvent{Address: c.cred.Address, State: boneco.AuthStateKeyExchange}
	if c.confirm {
		c.cred.Key = c.key
		c.events <- boneco.AuthEvent{Address: c.cred.Address, State: boneco.AuthStateConfirmed, Level: 1}
	}
	return nil
}

func (c *fakeClient) AuthStates() <-chan boneco.AuthEvent {
	return c.events
}

func (c *fakeClient) Credential() boneco.Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred
}

func (c *fakeClient) DeviceName(context.Context) (string, error) {
	return c.cred.Name, nil
}

func (c *fakeClient) DeviceInfo(context.Context) (boneco.DeviceInfo, error) {
	return boneco.DeviceInfo{}, nil
}

func (c *fakeClient) State(context.Context) (boneco.DeviceState, error) {
	return boneco.DeviceState{}, nil
}

func (c *fakeClient) SetState(context.Context, boneco.DeviceState) error {
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// fakeFactory hands out fakeClients built from a template.
type fakeFactory struct {
	mu      sync.Mutex
	confirm bool
	key     string
	connErr error
	clients []*fakeClient
}

func (f *fakeFactory) NewClient(cred boneco.Credential) boneco.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeClient{
		cred:       cred,
		confirm:    f.confirm,
		key:        f.key,
		connectErr: f.connErr,
		events:     make(chan boneco.AuthEvent, 8),
	}
	f.clients = append(f.clients, c)
	return c
}

func (f *fakeFactory) setConfirm(confirm bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirm = confirm
	for _, c := range f.clients {
		c.mu.Lock()
		c.confirm = confirm
		c.mu.Unlock()
	}
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// fakeStore records created entries.
type fakeStore struct {
	mu         sync.Mutex
	configured map[string]bool
	entries    []EntryData
	createErr  error
}

func newFakeStore(configured ...string) *fakeStore {
	s := &fakeStore{configured: make(map[string]bool)}
	for _, uid := range configured {
		s.configured[uid] = true
	}
	return s
}

func (s *fakeStore) IsConfigured(_ context.Context, uid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured[uid], nil
}

func (s *fakeStore) CreateEntry(_ context.Context, data EntryData) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.entries = append(s.entries, data)
	s.configured[data.UniqueID] = true
	return "entry-" + data.UniqueID, nil
}

func (s *fakeStore) created() []EntryData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EntryData(nil), s.entries...)
}

var errStoreDown = errors.New("store down")

// waitForState polls the flow until it reaches state.
func waitForState(t *testing.T, f *Flow, state State, timeout time.Duration) Status {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st := f.Status()
		if st.State == state {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("flow state = %s, want %s", f.Status().State, state)
	return Status{}
}

func waitForSubscriber(t *testing.T, s *fakeSource, address string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.subscribers(address) > 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no advertisement subscriber for %s", address)
}

// collect gathers the states a manager broadcasts.
type collector struct {
	mu     sync.Mutex
	states []State
	done   chan struct{}
}

func collect(m *Manager) (*collector, func()) {
	ch, stop := m.Watch()
	c := &collector{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		for st := range ch {
			c.mu.Lock()
			c.states = append(c.states, st.State)
			c.mu.Unlock()
		}
	}()
	return c, func() {
		stop()
		<-c.done
	}
}

func (c *collector) seen() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]State(nil), c.states...)
}

func (c *collector) waitFor(t *testing.T, state State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if slices.Contains(c.seen(), state) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state %s never broadcast, saw %v", state, c.seen())
}
