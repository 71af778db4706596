package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultUpdateInterval  = 60 * time.Second
	DefaultUpdateTimeout   = 30 * time.Second
	DefaultWriteCooldown   = 300 * time.Millisecond
	DefaultRefreshCooldown = 10 * time.Second

	disconnectTimeout = 5 * time.Second
)

// Logger is the logging interface used by the coordinator.
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

// Listener receives coordinator events. Calls are made without holding
// coordinator locks, possibly from timer goroutines.
type Listener interface {
	OnSnapshot(address string, snap boneco.Snapshot)
	OnFetchFailed(address string, err error)
	OnWriteFailed(address string, state boneco.DeviceState, err error)
	OnWritten(address string, state boneco.DeviceState)
}

type noopListener struct{}

func (noopListener) OnSnapshot(string, boneco.Snapshot)               {}
func (noopListener) OnFetchFailed(string, error)                      {}
func (noopListener) OnWriteFailed(string, boneco.DeviceState, error) {}
func (noopListener) OnWritten(string, boneco.DeviceState)             {}

// Options tunes polling and write coalescing.
type Options struct {
	// UpdateInterval is the poll period.
	UpdateInterval time.Duration

	// UpdateTimeout bounds one poll cycle or one write, lock wait included.
	UpdateTimeout time.Duration

	// WriteCooldown is the debounce window for state writes.
	WriteCooldown time.Duration

	// RefreshCooldown delays the refresh requested after a write.
	RefreshCooldown time.Duration

	Listener Listener
	Logger   Logger
}

func (o Options) withDefaults() Options {
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = DefaultUpdateInterval
	}
	if o.UpdateTimeout <= 0 {
		o.UpdateTimeout = DefaultUpdateTimeout
	}
	if o.WriteCooldown < 0 {
		o.WriteCooldown = 0
	}
	if o.RefreshCooldown <= 0 {
		o.RefreshCooldown = DefaultRefreshCooldown
	}
	if o.Listener == nil {
		o.Listener = noopListener{}
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}

// staleCloser is implemented by clients that can drop a session left over
// from a previous run.
type staleCloser interface {
	ForceDisconnect(ctx context.Context) error
}

// Coordinator polls one device and serializes every operation on its
// single connection.
//
// Reads and writes go through withConnection, which holds the device lock
// for the whole operation and disconnects only when no other operation is
// waiting. Writes are coalesced: UpdateState and SetState replace one
// pending state and re-arm a debounce timer; the timer writes the latest
// pending state once.
//
// All methods are safe for concurrent use.
type Coordinator struct {
	address string
	client  boneco.Client
	opts    Options
	logger  Logger

	// sem is the device lock. waiters counts operations holding or waiting
	// for it and is only changed under waitMu.
	sem     chan struct{}
	waitMu  sync.Mutex
	waiters int

	mu           sync.RWMutex
	snapshot     *boneco.Snapshot
	available    bool
	lastErr      error
	lastUpdate   time.Time
	pending      *boneco.DeviceState
	writeTimer   *time.Timer
	refreshTimer *time.Timer
	closed       bool

	baseCtx context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	stop    sync.Once
	started bool
	wg      sync.WaitGroup
}

// New creates a coordinator for the device at address.
func New(address string, client boneco.Client, opts Options) *Coordinator {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		address: address,
		client:  client,
		opts:    opts,
		logger:  opts.Logger,
		sem:     make(chan struct{}, 1),
		baseCtx: ctx,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}
}

// Address returns the device address.
func (c *Coordinator) Address() string {
	return c.address
}

// Start clears any stale gateway session, runs the first refresh and starts
// the poll loop. The loop runs even when the first refresh fails; the error
// then wraps ErrNotReady and the next interval retries.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if sc, ok := c.client.(staleCloser); ok {
		cleanupCtx, cancel := context.WithTimeout(ctx, disconnectTimeout)
		if err := sc.ForceDisconnect(cleanupCtx); err != nil {
			c.logger.Debug("stale connection cleanup failed", "address", c.address, "error", err)
		}
		cancel()
	}

	err := c.Refresh(ctx)

	c.wg.Add(1)
	go c.run()

	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return nil
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			_ = c.Refresh(c.baseCtx)
		}
	}
}

// withConnection runs fn while holding the device lock, connecting first
// if needed. The connection is released only when no other operation holds
// or waits for the lock, so back-to-back operations reuse it.
func (c *Coordinator) withConnection(ctx context.Context, fn func(ctx context.Context, client boneco.Client) error) error {
	c.waitMu.Lock()
	c.waiters++
	c.waitMu.Unlock()

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		c.waitMu.Lock()
		c.waiters--
		c.waitMu.Unlock()
		return fmt.Errorf("%w: waiting for device lock: %w", boneco.ErrConnection, ctx.Err())
	}

	defer func() {
		c.waitMu.Lock()
		c.waiters--
		idle := c.waiters == 0
		c.waitMu.Unlock()

		if idle {
			c.release()
		} else {
			c.logger.Debug("keeping connection for next operation", "address", c.address)
		}
		<-c.sem
	}()

	if err := c.client.Connect(ctx); err != nil {
		return err
	}
	return fn(ctx, c.client)
}

func (c *Coordinator) release() {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := c.client.Disconnect(ctx); err != nil {
		c.logger.Debug("disconnect failed", "address", c.address, "error", err)
	}
}

// Refresh polls the device now: connect, then name, info and state in that
// order. On success the snapshot is replaced and listeners notified. On
// failure the previous snapshot stays published and a *FetchFailedError is
// returned.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.UpdateTimeout)
	defer cancel()

	var snap boneco.Snapshot
	err := c.withConnection(ctx, func(ctx context.Context, client boneco.Client) error {
		name, err := client.DeviceName(ctx)
		if err != nil {
			return fmt.Errorf("reading name: %w", err)
		}
		info, err := client.DeviceInfo(ctx)
		if err != nil {
			return fmt.Errorf("reading info: %w", err)
		}
		state, err := client.State(ctx)
		if err != nil {
			return fmt.Errorf("reading state: %w", err)
		}
		snap = boneco.Snapshot{Name: name, Info: info, State: state, FetchedAt: time.Now()}
		return nil
	})
	if err != nil {
		return c.fetchFailed(err)
	}

	c.mu.Lock()
	wasAvailable := c.available
	c.snapshot = &snap
	c.available = true
	c.lastErr = nil
	c.lastUpdate = snap.FetchedAt
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return nil
	}
	if !wasAvailable {
		c.logger.Info("device available", "address", c.address, "name", snap.Name)
	}
	c.logger.Debug("fetched device data", "address", c.address, "fan_level", snap.State.FanLevel)
	c.opts.Listener.OnSnapshot(c.address, snap.Clone())
	return nil
}

func (c *Coordinator) fetchFailed(cause error) error {
	ferr := &FetchFailedError{Address: c.address, Err: cause}

	c.mu.Lock()
	wasAvailable := c.available
	c.available = false
	c.lastErr = ferr
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ferr
	}
	if wasAvailable {
		c.logger.Warn("device unavailable", "address", c.address, "error", cause)
	} else {
		c.logger.Debug("fetch failed", "address", c.address, "error", cause)
	}
	c.opts.Listener.OnFetchFailed(c.address, ferr)
	return ferr
}

// RequestRefresh schedules a refresh after the refresh cooldown. Calls
// while one is scheduled are absorbed by it.
func (c *Coordinator) RequestRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.refreshTimer != nil {
		return
	}
	c.refreshTimer = time.AfterFunc(c.opts.RefreshCooldown, func() {
		c.mu.Lock()
		c.refreshTimer = nil
		closed := c.closed
		if !closed {
			c.wg.Add(1)
		}
		c.mu.Unlock()
		if closed {
			return
		}
		defer c.wg.Done()
		_ = c.Refresh(c.baseCtx)
	})
}

// UpdateState applies transform to a copy of the latest known state (the
// pending write if any, else the published one) and schedules the result
// for writing. The new state is immediately visible to the next
// UpdateState call.
func (c *Coordinator) UpdateState(transform func(state *boneco.DeviceState)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	base, ok := c.lastStateLocked()
	if !ok {
		return ErrNoData
	}
	next := base.Clone()
	transform(&next)
	c.scheduleLocked(next)
	return nil
}

// SetState replaces the pending state outright and schedules it.
func (c *Coordinator) SetState(state boneco.DeviceState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.scheduleLocked(state.Clone())
	return nil
}

func (c *Coordinator) lastStateLocked() (boneco.DeviceState, bool) {
	if c.pending != nil {
		return *c.pending, true
	}
	if c.snapshot != nil {
		return c.snapshot.State, true
	}
	return boneco.DeviceState{}, false
}

// scheduleLocked stores state in the pending slot and re-arms the debounce
// timer. Must hold c.mu.
func (c *Coordinator) scheduleLocked(state boneco.DeviceState) {
	c.logger.Debug("scheduling state write", "address", c.address, "fan_level", state.FanLevel)
	c.pending = &state
	if c.writeTimer != nil {
		c.writeTimer.Stop()
	}
	c.writeTimer = time.AfterFunc(c.opts.WriteCooldown, c.flush)
}

// flush writes the pending state once. The pending value stays visible
// while the write is in flight; it is cleared afterwards unless a newer
// state replaced it meanwhile.
func (c *Coordinator) flush() {
	c.mu.Lock()
	if c.closed || c.pending == nil {
		c.mu.Unlock()
		return
	}
	taken := c.pending
	c.writeTimer = nil
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	state := taken.Clone()

	ctx, cancel := context.WithTimeout(c.baseCtx, c.opts.UpdateTimeout)
	defer cancel()

	err := c.withConnection(ctx, func(ctx context.Context, client boneco.Client) error {
		return client.SetState(ctx, state)
	})

	c.mu.Lock()
	if c.pending == taken {
		c.pending = nil
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("can't update device state", "address", c.address, "error", err)
		c.opts.Listener.OnWriteFailed(c.address, state, err)
		return
	}

	c.logger.Debug("device state written", "address", c.address)
	c.opts.Listener.OnWritten(c.address, state)
	c.RequestRefresh()
}

// Snapshot returns a copy of the published snapshot.
func (c *Coordinator) Snapshot() (boneco.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return boneco.Snapshot{}, false
	}
	return c.snapshot.Clone(), true
}

// PendingState returns a copy of the state waiting to be written.
func (c *Coordinator) PendingState() (boneco.DeviceState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pending == nil {
		return boneco.DeviceState{}, false
	}
	return c.pending.Clone(), true
}

// Available reports whether the last poll succeeded.
func (c *Coordinator) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// LastError returns the error of the last failed poll, or nil after a
// successful one.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// LastUpdate returns the time of the last successful poll.
func (c *Coordinator) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

func (c *Coordinator) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Shutdown stops polling, drops any unsent state and disconnects. It waits
// for in-flight operations until ctx expires.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.writeTimer != nil {
		c.writeTimer.Stop()
		c.writeTimer = nil
	}
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if c.pending != nil {
		c.logger.Debug("dropping unsent state", "address", c.address)
		c.pending = nil
	}
	c.mu.Unlock()

	c.stop.Do(func() { close(c.stopCh) })
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s operations: %w", c.address, ctx.Err())
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s device lock: %w", c.address, ctx.Err())
	}
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnecting %s: %w", c.address, err)
	}
	return nil
}
