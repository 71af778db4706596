package bleproxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

const authBufferSize = 8

// Client is a boneco.Client backed by gateway RPC. It tracks the connection
// flag locally; the gateway owns the actual BLE link.
type Client struct {
	gw      *Gateway
	address string

	mu        sync.Mutex
	cred      boneco.Credential
	connected bool

	auth chan boneco.AuthEvent
}

var _ boneco.Client = (*Client)(nil)

func newClient(gw *Gateway, cred boneco.Credential) *Client {
	return &Client{
		gw:      gw,
		address: cred.Address,
		cred:    cred,
		auth:    make(chan boneco.AuthEvent, authBufferSize),
	}
}

// Connect opens the device session on the gateway. The stored key (empty
// while pairing) is sent along.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	key := c.cred.Key
	c.mu.Unlock()

	if err := c.gw.call(ctx, Request{Op: OpConnect, Address: c.address, Key: key}, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect closes the device session. The local flag is cleared even if
// the gateway reports an error.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.mu.Unlock()

	return c.gw.call(ctx, Request{Op: OpDisconnect, Address: c.address}, nil)
}

// ForceDisconnect asks the gateway to drop any session it holds for the
// device, whatever the local flag says. Used to clear stale links left by
// a previous run.
func (c *Client) ForceDisconnect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return c.gw.call(ctx, Request{Op: OpDisconnect, Address: c.address}, nil)
}

// IsConnected reports the local connection flag.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Authorize starts the handshake. Progress arrives on AuthStates.
func (c *Client) Authorize(ctx context.Context) error {
	if err := c.requireConnected(OpAuthorize); err != nil {
		return err
	}
	return c.gw.call(ctx, Request{Op: OpAuthorize, Address: c.address}, nil)
}

// AuthStates returns the handshake event channel.
func (c *Client) AuthStates() <-chan boneco.AuthEvent {
	return c.auth
}

// Credential returns the credential, including a key learned from a
// confirmed handshake.
func (c *Client) Credential() boneco.Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred
}

// DeviceName reads the device's configured name.
func (c *Client) DeviceName(ctx context.Context) (string, error) {
	if err := c.requireConnected(OpGetName); err != nil {
		return "", err
	}
	var name string
	if err := c.gw.call(ctx, Request{Op: OpGetName, Address: c.address}, &name); err != nil {
		return "", err
	}
	return name, nil
}

// DeviceInfo reads hardware facts and readings.
func (c *Client) DeviceInfo(ctx context.Context) (boneco.DeviceInfo, error) {
	if err := c.requireConnected(OpGetInfo); err != nil {
		return boneco.DeviceInfo{}, err
	}
	var info boneco.DeviceInfo
	if err := c.gw.call(ctx, Request{Op: OpGetInfo, Address: c.address}, &info); err != nil {
		return boneco.DeviceInfo{}, err
	}
	return info, nil
}

// State reads the operational state.
func (c *Client) State(ctx context.Context) (boneco.DeviceState, error) {
	if err := c.requireConnected(OpGetState); err != nil {
		return boneco.DeviceState{}, err
	}
	var state boneco.DeviceState
	if err := c.gw.call(ctx, Request{Op: OpGetState, Address: c.address}, &state); err != nil {
		return boneco.DeviceState{}, err
	}
	return state, nil
}

// SetState writes the full state.
func (c *Client) SetState(ctx context.Context, state boneco.DeviceState) error {
	if err := c.requireConnected(OpSetState); err != nil {
		return err
	}
	st := state.Clone()
	return c.gw.call(ctx, Request{Op: OpSetState, Address: c.address, State: &st}, nil)
}

// Close stops routing auth events to this client.
func (c *Client) Close() {
	c.gw.release(c)
}

func (c *Client) requireConnected(op string) error {
	if !c.IsConnected() {
		return fmt.Errorf("%w: %s %s: not connected", boneco.ErrProtocol, op, c.address)
	}
	return nil
}

// handleAuth records a learned key and publishes the event. When the buffer
// is full the oldest event is dropped so the latest state always arrives.
func (c *Client) handleAuth(msg AuthMessage) {
	c.mu.Lock()
	if msg.Key != "" {
		c.cred.Key = msg.Key
	}
	c.mu.Unlock()

	ev := boneco.AuthEvent{Address: c.address, State: msg.State, Level: msg.Level}
	for {
		select {
		case c.auth <- ev:
			return
		default:
		}
		select {
		case <-c.auth:
		default:
		}
	}
}
