package bleproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DeKaN/ha-boneco/internal/boneco"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/mqtt"
)

var _ boneco.ClientFactory = (*Gateway)(nil)

// DefaultRequestTimeout bounds a gateway round trip when none is configured.
const DefaultRequestTimeout = 10 * time.Second

// Transport is the subset of the MQTT client used to reach the gateway.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
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

// Gateway multiplexes request/response RPC with the BLE gateway over MQTT.
//
// One Gateway serves every device. Responses are matched to requests by a
// UUID correlation id; auth events are routed to the client registered for
// the device's node.
type Gateway struct {
	transport Transport
	topics    mqtt.Topics
	timeout   time.Duration
	logger    Logger

	mu      sync.Mutex
	started bool
	pending map[string]chan Response
	clients map[string]*Client
}

// NewGateway creates a gateway RPC endpoint. A non-positive timeout uses
// DefaultRequestTimeout.
func NewGateway(transport Transport, topics mqtt.Topics, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Gateway{
		transport: transport,
		topics:    topics,
		timeout:   timeout,
		logger:    noopLogger{},
		pending:   make(map[string]chan Response),
		clients:   make(map[string]*Client),
	}
}

// SetLogger sets the logger.
func (g *Gateway) SetLogger(logger Logger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logger = logger
}

// Start subscribes to gateway responses and auth events.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil
	}

	if err := g.transport.Subscribe(g.topics.AllGatewayResponses(), 1, g.handleResponse); err != nil {
		return fmt.Errorf("subscribing to gateway responses: %w", err)
	}
	if err := g.transport.Subscribe(g.topics.AllGatewayAuth(), 1, g.handleAuth); err != nil {
		_ = g.transport.Unsubscribe(g.topics.AllGatewayResponses())
		return fmt.Errorf("subscribing to gateway auth events: %w", err)
	}
	g.started = true
	return nil
}

// Stop unsubscribes and fails every in-flight request.
func (g *Gateway) Stop() {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return
	}
	g.started = false
	pending := g.pending
	g.pending = make(map[string]chan Response)
	g.mu.Unlock()

	_ = g.transport.Unsubscribe(g.topics.AllGatewayResponses())
	_ = g.transport.Unsubscribe(g.topics.AllGatewayAuth())

	for id, ch := range pending {
		ch <- Response{ID: id, Error: &ResponseError{Code: CodeDisconnected, Message: "gateway stopped"}}
	}
}

// NewClient returns a protocol client for a device. The newest client for
// an address receives its auth events.
func (g *Gateway) NewClient(cred boneco.Credential) boneco.Client {
	c := newClient(g, cred)
	g.mu.Lock()
	g.clients[mqtt.NodeID(cred.Address)] = c
	g.mu.Unlock()
	return c
}

func (g *Gateway) release(c *Client) {
	node := mqtt.NodeID(c.address)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clients[node] == c {
		delete(g.clients, node)
	}
}

// Ping asks the gateway to answer a no-op request. The process supervisor
// uses it as a liveness probe.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.call(ctx, Request{Op: OpPing}, nil)
}

func requestNode(address string) string {
	if node := mqtt.NodeID(address); node != "" {
		return node
	}
	return gatewayNode
}

// call performs one RPC and decodes the result into out when non-nil.
func (g *Gateway) call(ctx context.Context, req Request, out any) error {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s %s: %w", boneco.ErrConnection, req.Op, req.Address, ErrNotStarted)
	}
	req.ID = uuid.NewString()
	ch := make(chan Response, 1)
	g.pending[req.ID] = ch
	logger := g.logger
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, req.ID)
		g.mu.Unlock()
	}()

	if !g.transport.IsConnected() {
		return fmt.Errorf("%w: %s %s: broker not connected", boneco.ErrConnection, req.Op, req.Address)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: encoding %s request: %w", boneco.ErrProtocol, req.Op, err)
	}

	logger.Debug("gateway request", "op", req.Op, "address", req.Address, "id", req.ID)
	if err := g.transport.Publish(g.topics.GatewayRequest(requestNode(req.Address)), payload, 1, false); err != nil {
		return fmt.Errorf("%w: publishing %s request: %w", boneco.ErrConnection, req.Op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return &GatewayError{Op: req.Op, Address: req.Address, Code: resp.Error.Code, Message: resp.Error.Message}
		}
		if !resp.OK {
			return &GatewayError{Op: req.Op, Address: req.Address, Code: CodeProtocol, Message: "request not acknowledged"}
		}
		if out == nil {
			return nil
		}
		if len(resp.Result) == 0 {
			return fmt.Errorf("%w: %s %s: empty result", boneco.ErrProtocol, req.Op, req.Address)
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%w: %s %s: malformed result: %w", boneco.ErrProtocol, req.Op, req.Address, err)
		}
		return nil
	case <-callCtx.Done():
		return fmt.Errorf("%w: %s %s: no response: %w", boneco.ErrConnection, req.Op, req.Address, callCtx.Err())
	}
}

func (g *Gateway) handleResponse(topic string, payload []byte) error {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("decoding gateway response on %s: %w", topic, err)
	}

	g.mu.Lock()
	ch, ok := g.pending[resp.ID]
	if ok {
		delete(g.pending, resp.ID)
	}
	logger := g.logger
	g.mu.Unlock()

	if !ok {
		logger.Debug("dropping unmatched gateway response", "id", resp.ID, "topic", topic)
		return nil
	}
	ch <- resp
	return nil
}

func (g *Gateway) handleAuth(topic string, payload []byte) error {
	var msg AuthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding gateway auth event on %s: %w", topic, err)
	}

	node := g.topics.NodeFromTopic(topic)
	g.mu.Lock()
	c := g.clients[node]
	g.mu.Unlock()

	if c == nil {
		return nil
	}
	c.handleAuth(msg)
	return nil
}
