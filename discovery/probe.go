package discovery

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cloudkucooland/gokasa/codec"
)

// LegacyProbePort and NewProbePort are the two ports a broadcast or
// unicast discovery round sends to.
const (
	LegacyProbePort = 9999
	NewProbePort    = 20002
)

var legacySysinfoQuery = []byte(`{"system":{"get_sysinfo":{}}}`)

// buildLegacyProbe is the 9999 probe: XOR-encrypted JSON, no length
// prefix (unlike the TCP framing the XOR transport uses).
func buildLegacyProbe() []byte {
	return codec.XOREncrypt(legacySysinfoQuery)
}

// newProbeHeaderSize is the fixed 16-byte header preceding the JSON
// body in a 20002 probe or reply.
const newProbeHeaderSize = 16

// buildNewProbe is the 20002 probe: a 16-byte header followed by a
// JSON body carrying the caller's RSA public key in PEM. The header's
// crc32 field is seeded with 0x5A6B7C8D, then overwritten with the
// CRC32 of the complete buffer.
func buildNewProbe(pubkeyPEM []byte) ([]byte, error) {
	body, err := json.Marshal(map[string]interface{}{
		"params": map[string]interface{}{"rsa_key": string(pubkeyPEM)},
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: marshal new probe body: %w", err)
	}

	buf := make([]byte, newProbeHeaderSize+len(body))
	buf[0] = 2 // version
	buf[1] = 0 // msg_type
	binary.BigEndian.PutUint16(buf[2:4], 1)                               // op_code
	binary.BigEndian.PutUint16(buf[4:6], uint16(newProbeHeaderSize+len(body))) // msg_size
	buf[6] = 17                                                           // flags
	buf[7] = 0                                                            // pad
	serial, err := randUint32()
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint32(buf[8:12], serial)
	binary.BigEndian.PutUint32(buf[12:16], 0x5A6B7C8D) // seed value before the real crc32 is computed
	copy(buf[newProbeHeaderSize:], body)

	crc := codec.CRC32IEEE(buf)
	binary.BigEndian.PutUint32(buf[12:16], crc)
	return buf, nil
}

func randUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("discovery: generate probe serial: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
