package pairing

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

const testAddress = "AA:BB:CC:DD:EE:FF"

func newTestManager(t *testing.T, source *fakeSource, factory *fakeFactory, store *fakeStore, cfg Config) *Manager {
	t.Helper()
	m := NewManager(source, factory, store, nil, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return m
}

func TestDiscovered(t *testing.T) {
	foreign := boneco.Advertisement{
		Address:          "11:22:33:44:55:66",
		Name:             "Other",
		ManufacturerData: map[uint16][]byte{testCompanyID: {0x01, 0x02, 0x01}},
	}
	source := newFakeSource(
		advertisement("AA:BB:CC:DD:EE:02", "H400", false),
		advertisement("AA:BB:CC:DD:EE:01", "W200", true),
		advertisement("AA:BB:CC:DD:EE:03", "H700", false),
		foreign,
	)
	store := newFakeStore("aa:bb:cc:dd:ee:03")
	m := newTestManager(t, source, &fakeFactory{}, store, Config{})

	got, err := m.Discovered(context.Background())
	if err != nil {
		t.Fatalf("Discovered() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Discovered() returned %d devices, want 2: %+v", len(got), got)
	}
	if got[0].Address != "AA:BB:CC:DD:EE:01" || got[0].Label != "W200 EE01" || !got[0].PairingActive {
		t.Errorf("first discovery = %+v", got[0])
	}
	if got[1].Address != "AA:BB:CC:DD:EE:02" || got[1].Label != "H400 EE02" || got[1].PairingActive {
		t.Errorf("second discovery = %+v", got[1])
	}
}

func TestDiscoveredIgnoresPayloadWithoutVendorTag(t *testing.T) {
	payloads := [][]byte{
		nil,
		{0xB0},
		{0xB0, 0x0C},
		{0x0C, 0xB0, 0x01},
		{0x00, 0x00, 0x01, 0xB0, 0x0C},
	}
	for _, payload := range payloads {
		adv := boneco.Advertisement{
			Address:          testAddress,
			Name:             "H400",
			ManufacturerData: map[uint16][]byte{testCompanyID: payload},
		}
		m := newTestManager(t, newFakeSource(adv), &fakeFactory{}, newFakeStore(), Config{})

		if _, err := m.Discovered(context.Background()); !errors.Is(err, ErrNoDevicesFound) {
			t.Errorf("payload %x: Discovered() error = %v, want ErrNoDevicesFound", payload, err)
		}
		if _, err := m.Start(context.Background(), testAddress); !errors.Is(err, ErrNotDiscovered) {
			t.Errorf("payload %x: Start() error = %v, want ErrNotDiscovered", payload, err)
		}
	}
}

func TestStartRejectsConfiguredDevice(t *testing.T) {
	source := newFakeSource(advertisement(testAddress, "H400", true))
	m := newTestManager(t, source, &fakeFactory{}, newFakeStore("aa:bb:cc:dd:ee:ff"), Config{})

	if _, err := m.Start(context.Background(), testAddress); !errors.Is(err, ErrAlreadyConfigured) {
		t.Errorf("Start() error = %v, want ErrAlreadyConfigured", err)
	}
}

func TestStartRejectsInvalidAddress(t *testing.T) {
	m := newTestManager(t, newFakeSource(), &fakeFactory{}, newFakeStore(), Config{})

	if _, err := m.Start(context.Background(), "not-an-address"); !errors.Is(err, boneco.ErrInvalidAddress) {
		t.Errorf("Start() error = %v, want ErrInvalidAddress", err)
	}
}

func TestPairingCompletesWhenAlreadyInPairingMode(t *testing.T) {
	source := newFakeSource(advertisement(testAddress, "H400", true))
	factory := &fakeFactory{confirm: true, key: "c2VjcmV0"}
	store := newFakeStore()
	m := newTestManager(t, source, factory, store, Config{})
	rec, stop := collect(m)

	f, err := m.Start(context.Background(), "aa-bb-cc-dd-ee-ff")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	st := waitForState(t, f, StateEntryCreated, 2*time.Second)
	rec.waitFor(t, StateEntryCreated)
	stop()

	if st.EntryID != "entry-aa:bb:cc:dd:ee:ff" || st.DeviceClass != "SIMPLE_CLIMATE" {
		t.Errorf("status = %+v", st)
	}
	entries := store.created()
	if len(entries) != 1 {
		t.Fatalf("created %d entries, want 1", len(entries))
	}
	want := EntryData{
		UniqueID:    "aa:bb:cc:dd:ee:ff",
		Address:     testAddress,
		Key:         "c2VjcmV0",
		DeviceClass: boneco.ClassSimpleClimate,
		Title:       "H400",
	}
	if entries[0] != want {
		t.Errorf("entry = %+v, want %+v", entries[0], want)
	}

	wantStates := []State{
		StateDiscovered,
		StateConfirmPending,
		StateWaitingForConfirmPairing,
		StateConfirmed,
		StateEntryCreated,
	}
	if got := rec.seen(); !slices.Equal(got, wantStates) {
		t.Errorf("states = %v, want %v", got, wantStates)
	}

	c := factory.clients[0]
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected || c.disconnects == 0 {
		t.Errorf("client left connected: connected=%v disconnects=%d", c.connected, c.disconnects)
	}
	if !c.closed {
		t.Error("client not released after entry creation")
	}
}

func TestPairingTimeoutThenPairingAdvertisement(t *testing.T) {
	const bound = 80 * time.Millisecond
	source := newFakeSource(advertisement(testAddress, "H700", false))
	factory := &fakeFactory{confirm: true, key: "a2V5"}
	store := newFakeStore()
	m := newTestManager(t, source, factory, store, Config{PairingTimeout: bound, ConfirmTimeout: time.Second})

	start := time.Now()
	f, err := m.Start(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st := f.Status(); st.State != StateWaitingForPairingMode && st.State != StatePairingTimeout {
		t.Fatalf("state after Start = %s, want waiting_for_pairing_mode", st.State)
	}

	st := waitForState(t, f, StatePairingTimeout, 2*time.Second)
	if elapsed := time.Since(start); elapsed < bound {
		t.Errorf("timed out after %v, want at least %v", elapsed, bound)
	}
	if st.Error == "" {
		t.Error("PairingTimeout status carries no error")
	}
	c := factory.clients[0]
	c.mu.Lock()
	authorizes := c.authorizes
	c.mu.Unlock()
	if authorizes != 0 {
		t.Error("authorize called before pairing mode")
	}

	if _, err := m.Retry(f.ID()); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	waitForSubscriber(t, source, testAddress)
	source.push(advertisement(testAddress, "H700", true))

	st = waitForState(t, f, StateEntryCreated, 2*time.Second)
	if st.Attempt != 2 || st.DeviceClass != "TOP_CLIMATE" {
		t.Errorf("status = %+v", st)
	}
}

func TestPairingTimeoutRetryIsRepeatable(t *testing.T) {
	const bound = 40 * time.Millisecond
	source := newFakeSource(advertisement(testAddress, "H400", false))
	m := newTestManager(t, source, &fakeFactory{}, newFakeStore(), Config{PairingTimeout: bound})

	f, err := m.Start(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first := waitForState(t, f, StatePairingTimeout, 2*time.Second)

	for attempt := 2; attempt <= 4; attempt++ {
		start := time.Now()
		if _, err := m.Retry(f.ID()); err != nil {
			t.Fatalf("attempt %d: Retry() error = %v", attempt, err)
		}
		st := waitForState(t, f, StatePairingTimeout, 2*time.Second)
		if elapsed := time.Since(start); elapsed < bound {
			t.Errorf("attempt %d: timed out after %v, want at least %v", attempt, elapsed, bound)
		}
		if st.Attempt != attempt {
			t.Errorf("attempt = %d, want %d", st.Attempt, attempt)
		}
		if st.Error != first.Error || st.Reason != first.Reason {
			t.Errorf("attempt %d: status %+v differs from first timeout %+v", attempt, st, first)
		}
	}
}

func TestPairingWaitIgnoresForeignAdvertisements(t *testing.T) {
	source := newFakeSource(advertisement(testAddress, "H400", false))
	m := newTestManager(t, source, &fakeFactory{confirm: true, key: "a2V5"}, newFakeStore(),
		Config{PairingTimeout: 100 * time.Millisecond})

	f, err := m.Start(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForSubscriber(t, source, testAddress)
	source.push(boneco.Advertisement{
		Address:          testAddress,
		Name:             "H400",
		ManufacturerData: map[uint16][]byte{testCompanyID: {0xFF, 0xFF, 0x01}},
	})
	source.push(advertisement(testAddress, "H400", false))

	waitForState(t, f, StatePairingTimeout, 2*time.Second)
}

func TestConfirmTimeoutRetryRestartsPairingWait(t *testing.T) {
	source := newFakeSource(advertisement(testAddress, "W400", true))
	factory := &fakeFactory{key: "a2V5"}
	store := newFakeStore()
	m := newTestManager(t, source, factory, store, Config{
		PairingTimeout: time.Second,
		ConfirmTimeout: 50 * time.Millisecond,
	})

	f, err := m.Start(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, f, StateConfirmTimeout, 2*time.Second)
	if len(store.created()) != 0 {
		t.Fatal("entry created without confirmation")
	}

	factory.setConfirm(true)
	if _, err := m.Retry(f.ID()); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	waitForState(t, f, StateWaitingForPairingMode, 2*time.Second)
	waitForSubscriber(t, source, testAddress)
	source.push(advertisement(testAddress, "W400", true))

	st := waitForState(t, f, StateEntryCreated, 2*time.Second)
	if st.DeviceClass != "HUMIDIFIER" {
		t.Errorf("device class = %s", st.DeviceClass)
	}
}

func TestEmptyKeyAbortsWithoutEntry(t *testing.T) {
	source := newFakeSource(advertisement(testAddress, "H400", true))
	store := newFakeStore()
	m := newTestManager(t, source, &fakeFactory{confirm: true, key: ""}, store, Config{})

	f, err := m.Start(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	st := waitForState(t, f, StateAborted, 2*time.Second)
	if st.Reason != ReasonInvalidAuth {
		t.Errorf("reason = %s, want %s", st.Reason, ReasonInvalidAuth)
	}
	if len(store.created()) != 0 {
		t.Errorf("created %d entries, want 0", len(store.created()))
	}
	if _, err := m.Retry(f.ID()); !errors.Is(err, ErrFlowFinished) {
		t.Errorf("Retry() error = %v, want ErrFlowFinished", err)
	}
}

func TestUnsupportedModelAborts(t *testing.T) {
	source := newFakeSource(advertisement(testAddress, "X999", true))
	store := newFakeStore()
	m := newTestManager(t, source, &fakeFactory{confirm: true, key: "a2V5"}, store, Config{})

	f, err := m.Start(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	st := waitForState(t, f, StateAborted, 2*time.Second)
	if st.Reason != ReasonUnsupportedModel {
		t.Errorf("reason = %s, want %s", st.Reason, ReasonUnsupportedModel)
	}
	if len(store.created()) != 0 {
		t.Error("entry created for unsupported model")
	}
}

func TestStoreFailureAborts(t *testing.T) {
	source := newFakeSource(advertisement(testAddress, "H400", true))
	store := newFakeStore()
	store.createErr = errStoreDown
	m := newTestManager(t, source, &fakeFactory{confirm: true, key: "a2V5"}, store, Config{})

	f, err := m.Start(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	st := waitForState(t, f, StateAborted, 2*time.Second)
	if st.Reason != ReasonStoreFailed || st.Error != errStoreDown.Error() {
		t.Errorf("status = %+v", st)
	}
}

func TestConnectFailureIsRetryable(t *testing.T) {
	source := newFakeSource(advertisement(testAddress, "H400", true))
	factory := &fakeFactory{connErr: boneco.ErrConnection}
	m := newTestManager(t, source, factory, newFakeStore(), Config{})

	f, err := m.Start(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	st := waitForState(t, f, StatePairingTimeout, 2*time.Second)
	if st.Error == "" {
		t.Error("status carries no error")
	}
}

func TestSecondFlowForSameAddressRejected(t *testing.T) {
	source := newFakeSource(advertisement(testAddress, "H400", false))
	m := newTestManager(t, source, &fakeFactory{}, newFakeStore(), Config{PairingTimeout: time.Second})

	if _, err := m.Start(context.Background(), testAddress); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := m.Start(context.Background(), testAddress); !errors.Is(err, ErrFlowInProgress) {
		t.Errorf("second Start() error = %v, want ErrFlowInProgress", err)
	}
	if _, err := m.Discovered(context.Background()); !errors.Is(err, ErrNoDevicesFound) {
		t.Errorf("Discovered() error = %v, want ErrNoDevicesFound", err)
	}
}

func TestRetryOutsideTimeoutState(t *testing.T) {
	source := newFakeSource(advertisement(testAddress, "H400", false))
	m := newTestManager(t, source, &fakeFactory{}, newFakeStore(), Config{PairingTimeout: time.Second})

	f, err := m.Start(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, f, StateWaitingForPairingMode, time.Second)
	if _, err := m.Retry(f.ID()); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("Retry() error = %v, want ErrNotRetryable", err)
	}
	if _, err := m.Retry("missing"); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("Retry(missing) error = %v, want ErrFlowNotFound", err)
	}
}

func TestCancel(t *testing.T) {
	source := newFakeSource(advertisement(testAddress, "H400", false))
	m := newTestManager(t, source, &fakeFactory{}, newFakeStore(), Config{PairingTimeout: 5 * time.Second})

	f, err := m.Start(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	watch, stop := f.Watch()
	defer stop()

	if err := m.Cancel(f.ID()); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	st := f.Status()
	if st.State != StateAborted || st.Reason != ReasonCancelled {
		t.Errorf("status = %+v", st)
	}

	var last Status
	for s := range watch {
		last = s
	}
	if last.State != StateAborted {
		t.Errorf("last watched state = %s, want aborted", last.State)
	}
	if err := m.Cancel(f.ID()); !errors.Is(err, ErrFlowFinished) {
		t.Errorf("second Cancel() error = %v, want ErrFlowFinished", err)
	}
	if _, err := m.Start(context.Background(), testAddress); err != nil {
		t.Errorf("Start() after cancel error = %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	source := newFakeSource(
		advertisement("AA:BB:CC:DD:EE:01", "H400", false),
		advertisement("AA:BB:CC:DD:EE:02", "H400", false),
	)
	m := newTestManager(t, source, &fakeFactory{}, newFakeStore(), Config{PairingTimeout: time.Second})

	first, err := m.Start(context.Background(), "AA:BB:CC:DD:EE:01")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, first, StateWaitingForPairingMode, time.Second)
	time.Sleep(5 * time.Millisecond)
	second, err := m.Start(context.Background(), "AA:BB:CC:DD:EE:02")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, second, StateWaitingForPairingMode, time.Second)

	list := m.List()
	if len(list) != 2 || list[0].FlowID != second.ID() || list[1].FlowID != first.ID() {
		t.Errorf("List() = %+v", list)
	}
}
