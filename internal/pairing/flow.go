package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

const releaseTimeout = 5 * time.Second

// Flow is one pairing session for one address. Its client and
// advertisement are discarded when the flow ends.
type Flow struct {
	m       *Manager
	id      string
	address string

	mu        sync.Mutex
	adv       boneco.Advertisement
	client    boneco.Client
	status    Status
	running   bool
	runCancel context.CancelFunc
	watchers  map[int]chan Status
	nextW     int
}

func newFlow(m *Manager, id string, adv boneco.Advertisement) *Flow {
	return &Flow{
		m:       m,
		id:      id,
		address: adv.Address,
		adv:     adv,
		status: Status{
			FlowID:    id,
			Address:   adv.Address,
			Name:      adv.Name,
			Label:     boneco.DiscoveryLabel(adv.Name, adv.Address),
			State:     StateIdle,
			UpdatedAt: time.Now(),
		},
		watchers: make(map[int]chan Status),
	}
}

// ID returns the flow id.
func (f *Flow) ID() string {
	return f.id
}

// Status returns the current status.
func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Watch streams this flow's status changes. The channel is closed when the
// flow ends or cancel is called.
func (f *Flow) Watch() (<-chan Status, func()) {
	ch := make(chan Status, watchBufferSize)
	f.mu.Lock()
	if f.status.State.Final() {
		ch <- f.status
		close(ch)
		f.mu.Unlock()
		return ch, func() {}
	}
	id := f.nextW
	f.nextW++
	f.watchers[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.watchers[id]; ok {
				delete(f.watchers, id)
				close(ch)
			}
		})
	}
}

// setState records a transition and notifies watchers. Transitions after a
// final state are ignored.
func (f *Flow) setState(state State, mutate func(st *Status)) {
	f.mu.Lock()
	if f.status.State.Final() {
		f.mu.Unlock()
		return
	}
	f.status.State = state
	f.status.Error = ""
	if mutate != nil {
		mutate(&f.status)
	}
	f.status.UpdatedAt = time.Now()
	if state.Retryable() || state.Final() {
		f.running = false
	}
	st := f.status
	for id, ch := range f.watchers {
		select {
		case ch <- st:
		default:
		}
		if state.Final() {
			close(ch)
			delete(f.watchers, id)
		}
	}
	f.mu.Unlock()

	f.m.getLogger().Info("pairing state changed",
		"flow_id", f.id, "address", f.address, "state", string(state), "attempt", st.Attempt)
	f.m.broadcast(st)
}

func withError(err error) func(st *Status) {
	return func(st *Status) {
		if err != nil {
			st.Error = err.Error()
		}
	}
}

func (f *Flow) abort(reason AbortReason, err error) {
	f.setState(StateAborted, func(st *Status) {
		st.Reason = reason
		if err != nil {
			st.Error = err.Error()
		}
	})
}

// launch runs one attempt in the background.
func (f *Flow) launch(waitForPairing bool) {
	ctx, cancel := context.WithCancel(context.Background())

	f.mu.Lock()
	f.running = true
	f.runCancel = cancel
	f.status.Attempt++
	if f.client == nil {
		f.client = f.m.clients.NewClient(boneco.Credential{Address: f.address, Name: f.adv.Name})
	}
	f.mu.Unlock()

	if waitForPairing {
		f.setState(StateWaitingForPairingMode, nil)
	}

	f.m.wg.Add(1)
	go func() {
		defer f.m.wg.Done()
		defer cancel()
		f.run(ctx, waitForPairing)
	}()
}

func (f *Flow) run(ctx context.Context, waitForPairing bool) {
	if waitForPairing {
		if err := f.waitForPairingMode(ctx); err != nil {
			if ctx.Err() != nil {
				f.release(true)
				return
			}
			f.setState(StatePairingTimeout, withError(err))
			return
		}
	}

	client := f.getClient()
	if err := client.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			f.release(true)
			return
		}
		f.m.getLogger().Warn("pairing connect failed", "address", f.address, "error", err)
		f.release(false)
		f.setState(StatePairingTimeout, withError(err))
		return
	}

	f.setState(StateWaitingForConfirmPairing, nil)
	err := f.authorize(ctx, client)
	f.release(false)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			f.release(true)
		case errors.Is(err, boneco.ErrAuthorization):
			f.abort(ReasonInvalidAuth, err)
			f.release(true)
		default:
			f.setState(StateConfirmTimeout, withError(err))
		}
		return
	}

	f.setState(StateConfirmed, nil)
	f.finish(ctx, client.Credential())
	f.release(true)
}

// waitForPairingMode scans advertisements for the flow's address until one
// reports pairing mode or the pairing timeout elapses. Advertisements that
// do not decode as a family device are ignored.
func (f *Flow) waitForPairingMode(ctx context.Context) error {
	ch, stop := f.m.source.Subscribe(f.address)
	defer stop()

	timer := time.NewTimer(f.m.cfg.PairingTimeout)
	defer timer.Stop()

	for {
		select {
		case adv, ok := <-ch:
			if !ok {
				ch = nil
				continue
			}
			if !adv.InPairingMode() {
				continue
			}
			f.mu.Lock()
			f.adv = adv
			f.mu.Unlock()
			return nil
		case <-timer.C:
			return fmt.Errorf("%w: %s after %s", boneco.ErrPairingTimeout, f.address, f.m.cfg.PairingTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// authorize starts the handshake and waits for a confirmed auth event,
// bounded by the confirm timeout.
func (f *Flow) authorize(ctx context.Context, client boneco.Client) error {
	waitCtx, cancel := context.WithTimeout(ctx, f.m.cfg.ConfirmTimeout)
	defer cancel()

	events := client.AuthStates()
	drain(events)

	if !client.IsConnected() {
		if err := client.Connect(waitCtx); err != nil {
			return err
		}
	}
	if err := client.Authorize(waitCtx); err != nil {
		return err
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("%w: auth event stream closed", boneco.ErrConnection)
			}
			f.m.getLogger().Debug("auth state", "address", f.address, "state", string(ev.State), "level", ev.Level)
			switch ev.State {
			case boneco.AuthStateConfirmed:
				return nil
			case boneco.AuthStateRejected:
				return fmt.Errorf("%w: device rejected pairing", boneco.ErrAuthorization)
			}
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s after %s", boneco.ErrConfirmTimeout, f.address, f.m.cfg.ConfirmTimeout)
		}
	}
}

// finish validates the credential and stores the entry.
func (f *Flow) finish(ctx context.Context, cred boneco.Credential) {
	if cred.Address == "" {
		cred.Address = f.address
	}
	if err := cred.Validate(); err != nil {
		f.m.getLogger().Warn("key not found for device", "address", f.address, "name", cred.Name)
		f.abort(ReasonInvalidAuth, err)
		return
	}

	uid, err := boneco.FormatMAC(cred.Address)
	if err != nil {
		f.abort(ReasonInvalidAuth, err)
		return
	}
	configured, err := f.m.store.IsConfigured(ctx, uid)
	if err != nil {
		f.abort(ReasonStoreFailed, err)
		return
	}
	if configured {
		f.abort(ReasonAlreadyConfigured, nil)
		return
	}

	class, err := f.m.models.Lookup(cred.Name)
	if err != nil {
		f.abort(ReasonUnsupportedModel, err)
		return
	}

	entryID, err := f.m.store.CreateEntry(ctx, EntryData{
		UniqueID:    uid,
		Address:     f.address,
		Key:         cred.Key,
		DeviceClass: class,
		Title:       cred.Name,
	})
	if err != nil {
		f.abort(ReasonStoreFailed, err)
		return
	}

	f.m.getLogger().Info("creating entry for device", "address", f.address, "title", cred.Name, "entry_id", entryID)
	f.setState(StateEntryCreated, func(st *Status) {
		st.EntryID = entryID
		st.DeviceClass = string(class)
	})
}

func (f *Flow) retry() error {
	f.mu.Lock()
	state := f.status.State
	running := f.running
	f.mu.Unlock()

	switch {
	case state.Final():
		return ErrFlowFinished
	case !state.Retryable():
		return fmt.Errorf("%w: %s", ErrNotRetryable, state)
	case running:
		return ErrFlowInProgress
	}
	f.launch(true)
	return nil
}

func (f *Flow) cancel() error {
	f.mu.Lock()
	if f.status.State.Final() {
		f.mu.Unlock()
		return ErrFlowFinished
	}
	cancel := f.runCancel
	running := f.running
	f.mu.Unlock()

	f.abort(ReasonCancelled, nil)
	if cancel != nil {
		cancel()
	}
	if !running {
		f.release(true)
	}
	return nil
}

func (f *Flow) getClient() boneco.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.client
}

// release disconnects the client and, when final, drops it.
func (f *Flow) release(final bool) {
	f.mu.Lock()
	client := f.client
	if final {
		f.client = nil
	}
	f.mu.Unlock()
	if client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		f.m.getLogger().Debug("pairing disconnect failed", "address", f.address, "error", err)
	}
	if closer, ok := client.(interface{ Close() }); ok && final {
		closer.Close()
	}
}

func drain(ch <-chan boneco.AuthEvent) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
