package codec

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
)

// MD5Sum returns the MD5 digest of the concatenation of parts.
// The KLAP v1 auth-hash derivation uses this.
func MD5Sum(parts ...[]byte) []byte {
	h := md5.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// SHA1Sum returns the SHA1 digest of the concatenation of parts.
// The KLAP v2 auth-hash derivation and the AES-passthrough login
// parameters use this.
func SHA1Sum(parts ...[]byte) []byte {
	h := sha1.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// SHA256Sum returns the SHA256 digest of the concatenation of parts.
// KLAP v2 auth-hash and every KLAP session derivation uses this.
func SHA256Sum(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
