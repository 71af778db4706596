// Package boneco defines the device model of the Boneco appliance family and
// the contract of the protocol client that talks to one device.
//
// It holds no transport code. A Client implementation (see package
// bleproxy) carries requests to a BLE gateway; the pairing and coordinator
// packages drive a Client through this interface.
//
// # Data model
//
//   - Identity: address, device class and name of a paired device
//   - Credential: address, model name and the secret key from pairing
//   - Advertisement / AdvertisementRecord: a broadcast and its decoded
//     vendor payload (family tag, pairing-mode flag)
//   - DeviceInfo: hardware facts, readings and fault flags
//   - DeviceState: the writable state, always written whole
//   - Snapshot: name + info + state from one fetch
//
// DeviceState and Snapshot hold pointers (reminder dates) and maps
// (operating modes); use Clone before mutating a value that other
// goroutines may read.
//
// # Errors
//
// ErrConnection, ErrProtocol and ErrAuthorization classify client
// failures. ErrPairingTimeout and ErrConfirmTimeout are the expected,
// retryable outcomes of pairing waits.
package boneco
