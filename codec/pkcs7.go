package codec

import "bytes"

// PKCS7BlockSize is the AES block size used by every transport that
// pads before encrypting.
const PKCS7BlockSize = 16

// PKCS7Pad pads data to a multiple of PKCS7BlockSize.
func PKCS7Pad(data []byte) []byte {
	padLen := PKCS7BlockSize - len(data)%PKCS7BlockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

// PKCS7Unpad strips PKCS7 padding, tolerating malformed padding as a
// soft failure: the input is returned unchanged rather than an error,
// leaving strict validation to callers that need it.
func PKCS7Unpad(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) || padLen > PKCS7BlockSize {
		return data
	}
	if !bytes.Equal(data[len(data)-padLen:], bytes.Repeat([]byte{byte(padLen)}, padLen)) {
		return data
	}
	return data[:len(data)-padLen]
}

// PKCS7UnpadStrict is the strict counterpart: it returns an error on
// malformed padding instead of silently returning the input.
func PKCS7UnpadStrict(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errEmptyPadding
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) || padLen > PKCS7BlockSize {
		return nil, errInvalidPadding
	}
	if !bytes.Equal(data[len(data)-padLen:], bytes.Repeat([]byte{byte(padLen)}, padLen)) {
		return nil, errInvalidPadding
	}
	return data[:len(data)-padLen], nil
}
