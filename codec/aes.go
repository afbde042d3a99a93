package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

// AESCBCEncrypt pads plaintext with PKCS7 and encrypts it with AES-128-CBC,
// returning the base64-encoded ciphertext (the AES-passthrough wire format).
func AESCBCEncrypt(key, iv, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("codec: new aes cipher: %w", err)
	}
	padded := PKCS7Pad(plaintext)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// AESCBCDecrypt reverses AESCBCEncrypt: base64-decode, AES-128-CBC
// decrypt, PKCS7-unpad (tolerant of malformed padding).
func AESCBCDecrypt(key, iv []byte, b64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("codec: decode base64: %w", err)
	}
	if len(raw) == 0 || len(raw)%PKCS7BlockSize != 0 {
		return nil, fmt.Errorf("codec: ciphertext length %d not block aligned", len(raw))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec: new aes cipher: %w", err)
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, raw)
	return PKCS7Unpad(out), nil
}

// AESCBCEncryptRaw is the raw-bytes counterpart of AESCBCEncrypt, used
// by KLAP where the ciphertext is signed and concatenated rather than
// base64-wrapped.
func AESCBCEncryptRaw(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec: new aes cipher: %w", err)
	}
	padded := PKCS7Pad(plaintext)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// AESCBCDecryptRaw is the raw-bytes counterpart of AESCBCDecrypt.
func AESCBCDecryptRaw(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%PKCS7BlockSize != 0 {
		return nil, fmt.Errorf("codec: ciphertext length %d not block aligned", len(ciphertext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec: new aes cipher: %w", err)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return PKCS7Unpad(out), nil
}
