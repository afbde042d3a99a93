package codec

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// AES handshake keys are 1024-bit; the 20002 discovery probe uses a
// 2048-bit keypair.
const (
	HandshakeKeyBits = 1024
	DiscoveryKeyBits = 2048
)

// GenerateKeypair creates a fresh RSA keypair with the given bit size.
func GenerateKeypair(bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("codec: generate rsa key: %w", err)
	}
	return key, nil
}

// PublicKeyPEM renders the public half of key as a PKCS1 PEM block, the
// form TP-Link devices expect in handshake and discovery requests.
func PublicKeyPEM(key *rsa.PrivateKey) []byte {
	der := x509.MarshalPKCS1PublicKey(&key.PublicKey)
	block := &pem.Block{Type: "RSA PUBLIC KEY", Bytes: der}
	return pem.EncodeToMemory(block)
}

// DecryptPKCS1 decrypts a base64-encoded PKCS1v15 ciphertext, used to
// unwrap the AES session key/IV returned by an AES-passthrough handshake.
func DecryptPKCS1(key *rsa.PrivateKey, b64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("codec: decode base64: %w", err)
	}
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, key, raw)
	if err != nil {
		return nil, fmt.Errorf("codec: rsa pkcs1 decrypt: %w", err)
	}
	return plain, nil
}

// DecryptOAEP decrypts an OAEP-SHA1 ciphertext, used for the encrypted
// discovery payload's "encrypt_info" blob.
func DecryptOAEP(key *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	plain, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, key, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: rsa oaep decrypt: %w", err)
	}
	return plain, nil
}

// MarshalPrivateKeyDER renders key as a base64 DER blob, the form cached
// in DeviceConfig.AESKeys.
func MarshalPrivateKeyDER(key *rsa.PrivateKey) string {
	der := x509.MarshalPKCS1PrivateKey(key)
	return base64.StdEncoding.EncodeToString(der)
}

// UnmarshalPrivateKeyDER restores a keypair previously produced by
// MarshalPrivateKeyDER.
func UnmarshalPrivateKeyDER(b64 string) (*rsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("codec: decode base64: %w", err)
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("codec: parse der: %w", err)
	}
	return key, nil
}
