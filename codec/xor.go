// Package codec implements the wire-level primitives shared by every
// transport: the legacy XOR stream cipher, PKCS7 padding, the hash and
// RSA helpers used during handshakes, and the CRC32 used by the
// new-style discovery probe.
package codec

import "encoding/binary"

// xorSeed is the fixed starting key byte for the legacy XOR stream,
// reverse-engineered from TP-Link's original firmware.
const xorSeed = 0xAB

// XOREncrypt runs the legacy TP-Link stream cipher over plaintext.
// key_0 = xorSeed; cipher[i] = key XOR plain[i]; key' = cipher[i].
func XOREncrypt(plain []byte) []byte {
	out := make([]byte, len(plain))
	key := byte(xorSeed)
	for i, b := range plain {
		out[i] = key ^ b
		key = out[i]
	}
	return out
}

// XORDecrypt mirrors XOREncrypt: plain[i] = key XOR cipher[i]; key' = cipher[i].
// The input must not include the 4-byte length prefix used on the wire.
func XORDecrypt(cipher []byte) []byte {
	out := make([]byte, len(cipher))
	key := byte(xorSeed)
	for i, b := range cipher {
		out[i] = key ^ b
		key = b
	}
	return out
}

// EncryptRequest builds the framed TCP payload: a 4-byte big-endian
// length prefix followed by the XOR-encrypted plaintext.
func EncryptRequest(plain []byte) []byte {
	body := XOREncrypt(plain)
	framed := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(framed[:4], uint32(len(plain)))
	copy(framed[4:], body)
	return framed
}
