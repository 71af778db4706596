package bleproxy

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

// Gateway operations.
const (
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
	OpAuthorize  = "authorize"
	OpGetName    = "get_name"
	OpGetInfo    = "get_info"
	OpGetState   = "get_state"
	OpSetState   = "set_state"

	// OpPing checks the gateway itself. It carries no address and travels
	// on the gatewayNode topics.
	OpPing = "ping"
)

// gatewayNode is the {node} segment for requests not aimed at a device.
const gatewayNode = "gateway"

// Request is published on {prefix}/ble/{node}/request.
type Request struct {
	ID      string              `json:"id"`
	Op      string              `json:"op"`
	Address string              `json:"address"`
	Key     string              `json:"key,omitempty"`
	State   *boneco.DeviceState `json:"state,omitempty"`
}

// Response is published by the gateway on {prefix}/ble/{node}/response.
type Response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// ResponseError carries a gateway error code.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage is published by the gateway on {prefix}/ble/{node}/auth for
// every handshake transition. Key is set once the device confirms.
type AuthMessage struct {
	Address string           `json:"address"`
	State   boneco.AuthState `json:"state"`
	Level   int              `json:"level"`
	Key     string           `json:"key,omitempty"`
}

// AdvertisementMessage is published by the gateway on
// {prefix}/ble/advertisement. Manufacturer data is keyed by company ID
// (decimal or 0x-prefixed hex) with hex-encoded payloads.
type AdvertisementMessage struct {
	Address          string            `json:"address"`
	Name             string            `json:"name"`
	RSSI             int               `json:"rssi"`
	Connectable      bool              `json:"connectable"`
	ManufacturerData map[string]string `json:"manufacturer_data"`
	Timestamp        time.Time         `json:"timestamp,omitzero"`
}

// ToAdvertisement decodes the message. seenAt is used when the gateway did
// not stamp the message.
func (m AdvertisementMessage) ToAdvertisement(seenAt time.Time) (boneco.Advertisement, error) {
	address, err := boneco.NormalizeAddress(m.Address)
	if err != nil {
		return boneco.Advertisement{}, fmt.Errorf("%w: %w", ErrInvalidAdvertisement, err)
	}

	data := make(map[uint16][]byte, len(m.ManufacturerData))
	for k, v := range m.ManufacturerData {
		id, err := strconv.ParseUint(strings.TrimSpace(k), 0, 16)
		if err != nil {
			return boneco.Advertisement{}, fmt.Errorf("%w: company id %q: %w", ErrInvalidAdvertisement, k, err)
		}
		payload, err := hex.DecodeString(v)
		if err != nil {
			return boneco.Advertisement{}, fmt.Errorf("%w: payload for %q: %w", ErrInvalidAdvertisement, k, err)
		}
		data[uint16(id)] = payload
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = seenAt
	}

	return boneco.Advertisement{
		Address:          address,
		Name:             m.Name,
		RSSI:             m.RSSI,
		Connectable:      m.Connectable,
		ManufacturerData: data,
		SeenAt:           ts,
	}, nil
}

// NewAdvertisementMessage encodes an advertisement in gateway wire form.
func NewAdvertisementMessage(adv boneco.Advertisement) AdvertisementMessage {
	data := make(map[string]string, len(adv.ManufacturerData))
	for id, payload := range adv.ManufacturerData {
		data[strconv.FormatUint(uint64(id), 10)] = hex.EncodeToString(payload)
	}
	return AdvertisementMessage{
		Address:          adv.Address,
		Name:             adv.Name,
		RSSI:             adv.RSSI,
		Connectable:      adv.Connectable,
		ManufacturerData: data,
		Timestamp:        adv.SeenAt,
	}
}
