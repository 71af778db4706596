package bleproxy

import (
	"errors"
	"fmt"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

var (
	// ErrNotStarted indicates a request was made before Gateway.Start.
	ErrNotStarted = errors.New("bleproxy: gateway not started")

	// ErrInvalidAdvertisement indicates an advertisement message that could
	// not be decoded.
	ErrInvalidAdvertisement = errors.New("bleproxy: invalid advertisement")
)

// Gateway error codes.
const (
	CodeConnectionFailed = "connection_failed"
	CodeNotConnected     = "not_connected"
	CodeDisconnected     = "disconnected"
	CodeTimeout          = "timeout"
	CodeProtocol         = "protocol"
	CodeMalformed        = "malformed"
	CodeRejected         = "rejected"
	CodeUnauthorized     = "unauthorized"
)

// GatewayError is an error reported by the gateway for one request.
type GatewayError struct {
	Op      string
	Address string
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s %s: %s: %s", e.Op, e.Address, e.Code, e.Message)
}

// Unwrap maps the gateway code onto the boneco error taxonomy.
func (e *GatewayError) Unwrap() error {
	switch e.Code {
	case CodeConnectionFailed, CodeNotConnected, CodeDisconnected, CodeTimeout:
		return boneco.ErrConnection
	case CodeUnauthorized:
		return boneco.ErrAuthorization
	default:
		return boneco.ErrProtocol
	}
}
