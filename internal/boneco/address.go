package boneco

import (
	"fmt"
	"strings"
)

// FormatMAC normalises a BLE address to lower-case colon-separated form.
// Colons, dashes or no separators are accepted.
//
// Example: "AA-BB-CC-DD-EE-FF" → "aa:bb:cc:dd:ee:ff"
func FormatMAC(address string) (string, error) {
	hex := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(address))
	if len(hex) != 12 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	for _, r := range hex {
		if !isHex(r) {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
	}
	hex = strings.ToLower(hex)
	var b strings.Builder
	b.Grow(17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hex[i : i+2])
	}
	return b.String(), nil
}

// NormalizeAddress returns the upper-case colon form used as the device key.
func NormalizeAddress(address string) (string, error) {
	mac, err := FormatMAC(address)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(mac), nil
}

// DiscoveryLabel builds the human label for a discovered device from its
// advertised name and the last two octets of the address.
//
// Example: ("H700", "aa-bb-cc-dd-ee-ff") → "H700 EEFF"
func DiscoveryLabel(name, address string) string {
	parts := strings.Split(strings.ReplaceAll(address, "-", ":"), ":")
	var short string
	if len(parts) >= 2 {
		short = strings.ToUpper(parts[len(parts)-2] + parts[len(parts)-1])
	} else {
		short = strings.ToUpper(address)
	}
	if len(short) > 4 {
		short = short[len(short)-4:]
	}
	return fmt.Sprintf("%s %s", name, short)
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
