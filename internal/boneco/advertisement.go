package boneco

import (
	"bytes"
	"slices"
	"time"
)

// Manufacturer data layout of the family's advertisements:
//
//	[0:2]  vendor tag
//	[2]    flags, bit 0 set while the device is in pairing mode
//
// Anything shorter than advertisementMinLength, or carrying another tag, is
// not a device of this family.
var vendorTag = []byte{0xB0, 0x0C}

const (
	advertisementMinLength = 3
	advertisementFlagsByte = 2
	flagPairingActive      = 0x01
)

// Advertisement is one broadcast observed by the scanner.
type Advertisement struct {
	Address          string
	Name             string
	RSSI             int
	Connectable      bool
	ManufacturerData map[uint16][]byte
	SeenAt           time.Time
}

// AdvertisementRecord is the decoded vendor payload. It is recomputed for
// every advertisement and never stored.
type AdvertisementRecord struct {
	CompanyID      uint16
	IsBonecoDevice bool
	PairingActive  bool
}

// Record decodes the advertisement's manufacturer data. ok is false when the
// advertisement carries none.
func (a Advertisement) Record() (AdvertisementRecord, bool) {
	return ParseManufacturerData(a.ManufacturerData)
}

// IsBoneco reports whether the advertisement decodes as a family device.
func (a Advertisement) IsBoneco() bool {
	rec, ok := a.Record()
	return ok && rec.IsBonecoDevice
}

// InPairingMode reports whether the advertisement is a family device with
// pairing mode active.
func (a Advertisement) InPairingMode() bool {
	rec, ok := a.Record()
	return ok && rec.IsBonecoDevice && rec.PairingActive
}

// ParseManufacturerData decodes the first manufacturer data entry, taking
// company IDs in ascending order. Only that entry is inspected.
func ParseManufacturerData(data map[uint16][]byte) (AdvertisementRecord, bool) {
	if len(data) == 0 {
		return AdvertisementRecord{}, false
	}
	ids := make([]uint16, 0, len(data))
	for id := range data {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	id := ids[0]
	return DecodeManufacturerPayload(id, data[id]), true
}

// DecodeManufacturerPayload decodes one manufacturer data entry.
func DecodeManufacturerPayload(companyID uint16, payload []byte) AdvertisementRecord {
	rec := AdvertisementRecord{CompanyID: companyID}
	if len(payload) < advertisementMinLength || !bytes.HasPrefix(payload, vendorTag) {
		return rec
	}
	rec.IsBonecoDevice = true
	rec.PairingActive = payload[advertisementFlagsByte]&flagPairingActive != 0
	return rec
}

// EncodeManufacturerPayload builds a payload that decodes to the given
// pairing flag. Gateways and test fixtures use it.
func EncodeManufacturerPayload(pairingActive bool) []byte {
	payload := make([]byte, advertisementMinLength)
	copy(payload, vendorTag)
	if pairingActive {
		payload[advertisementFlagsByte] = flagPairingActive
	}
	return payload
}
