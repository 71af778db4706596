package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

// fakeClient records calls and detects overlapping operations.
type fakeClient struct {
	mu          sync.Mutex
	connected   bool
	connects    int
	disconnects int
	forced      int
	calls       []string
	setStates   []boneco.DeviceState

	name  string
	info  boneco.DeviceInfo
	state boneco.DeviceState

	fetchErr   error
	setErr     error
	connectErr error
	opDelay    time.Duration

	inFlight atomic.Int32
	overlaps atomic.Int32
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		name:  "Bedroom",
		info:  boneco.DeviceInfo{SerialNumber: "SN-1", Humidity: 40},
		state: boneco.DeviceState{Enabled: true, FanLevel: 2, TargetHumidity: 50},
	}
}

func (f *fakeClient) enter(call string) func() {
	if f.inFlight.Add(1) > 1 {
		f.overlaps.Add(1)
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	delay := f.opDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeClient) Connect(context.Context) error {
	defer f.enter("connect")()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	if !f.connected {
		f.connected = true
		f.connects++
	}
	return nil
}

func (f *fakeClient) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.connected = false
		f.disconnects++
		f.calls = append(f.calls, "disconnect")
	}
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Authorize(context.Context) error    { return nil }
func (f *fakeClient) AuthStates() <-chan boneco.AuthEvent { return nil }
func (f *fakeClient) Credential() boneco.Credential {
	return boneco.Credential{Address: "AA:BB:CC:DD:EE:FF", Key: "k"}
}

func (f *fakeClient) DeviceName(context.Context) (string, error) {
	defer f.enter("get_name")()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	return f.name, nil
}

func (f *fakeClient) DeviceInfo(context.Context) (boneco.DeviceInfo, error) {
	defer f.enter("get_info")()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, nil
}

func (f *fakeClient) State(context.Context) (boneco.DeviceState, error) {
	defer f.enter("get_state")()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone(), nil
}

func (f *fakeClient) SetState(_ context.Context, state boneco.DeviceState) error {
	defer f.enter("set_state")()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setStates = append(f.setStates, state)
	if f.setErr != nil {
		return f.setErr
	}
	f.state = state.Clone()
	return nil
}

func (f *fakeClient) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *fakeClient) getSetStates() []boneco.DeviceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]boneco.DeviceState(nil), f.setStates...)
}

func (f *fakeClient) getCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) counts() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

// staleFakeClient also supports forced disconnects.
type staleFakeClient struct {
	*fakeClient
}

func (s staleFakeClient) ForceDisconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced++
	s.calls = append(s.calls, "force_disconnect")
	return nil
}

// recordingListener captures listener callbacks.
type recordingListener struct {
	mu           sync.Mutex
	snapshots    []boneco.Snapshot
	fetchErrs    []error
	writeErrs    []error
	failedWrites []boneco.DeviceState
	written      []boneco.DeviceState
}

func (l *recordingListener) OnSnapshot(_ string, snap boneco.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots = append(l.snapshots, snap)
}

func (l *recordingListener) OnFetchFailed(_ string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetchErrs = append(l.fetchErrs, err)
}

func (l *recordingListener) OnWriteFailed(_ string, state boneco.DeviceState, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeErrs = append(l.writeErrs, err)
	l.failedWrites = append(l.failedWrites, state)
}

func (l *recordingListener) OnWritten(_ string, state boneco.DeviceState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.written = append(l.written, state)
}

func (l *recordingListener) snapshotCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.snapshots)
}

func (l *recordingListener) writeErrCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.writeErrs)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
