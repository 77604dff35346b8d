package discovery

import (
	"fmt"
	"strings"
)

// TXT record keys.
const (
	// TXTKeyVersion is the gateway protocol version.
	TXTKeyVersion = "version"

	// TXTKeySuite is the frame cipher suite.
	TXTKeySuite = "suite"

	// TXTKeyKDF is the device key derivation function.
	TXTKeyKDF = "kdf"
)

// ProtocolVersion is the frame protocol version advertised by this gateway.
const ProtocolVersion = "1"

// maxTXTRecordLength is the DNS limit for a single TXT string.
const maxTXTRecordLength = 255

// GatewayTXT holds the TXT attributes of a gateway.
type GatewayTXT struct {
	// Version is the protocol version. Required.
	Version string

	// Suite is the frame cipher suite name (e.g., "ascon").
	Suite string

	// KDF is the key derivation function name (e.g., "ascon-hash256").
	KDF string
}

// Encode returns the TXT strings in a stable order. Empty values are omitted.
func (g *GatewayTXT) Encode() []string {
	var records []string
	add := func(key, value string) {
		if value != "" {
			records = append(records, key+"="+value)
		}
	}

	add(TXTKeyVersion, g.Version)
	add(TXTKeySuite, g.Suite)
	add(TXTKeyKDF, g.KDF)

	return records
}

// Validate checks that the attributes can be advertised.
func (g *GatewayTXT) Validate() error {
	if g.Version == "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidTXTRecord, TXTKeyVersion)
	}
	for _, r := range g.Encode() {
		if len(r) > maxTXTRecordLength {
			return fmt.Errorf("%w: record %q exceeds %d bytes", ErrInvalidTXTRecord, r[:16], maxTXTRecordLength)
		}
	}
	return nil
}

// ParseTXT parses TXT records into a key-value map.
// Records without '=' are ignored.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[record[:idx]] = record[idx+1:]
		}
	}
	return result
}

// ParseGatewayTXT parses gateway TXT records. The version key is required.
func ParseGatewayTXT(records []string) (*GatewayTXT, error) {
	m := ParseTXT(records)

	version, ok := m[TXTKeyVersion]
	if !ok || version == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidTXTRecord, TXTKeyVersion)
	}

	return &GatewayTXT{
		Version: version,
		Suite:   m[TXTKeySuite],
		KDF:     m[TXTKeyKDF],
	}, nil
}
