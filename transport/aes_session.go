package transport

import "github.com/cloudkucooland/gokasa/codec"

// aesSession is the AES encryption session's value: a symmetric
// key[16]/iv[16] pair with no other mutable state.
type aesSession struct {
	key [16]byte
	iv  [16]byte
}

func newAESSession(key, iv []byte) *aesSession {
	s := &aesSession{}
	copy(s.key[:], key)
	copy(s.iv[:], iv)
	return s
}

// encrypt returns base64(AES-128-CBC(key, iv).encrypt(pkcs7(plaintext))).
func (s *aesSession) encrypt(plaintext []byte) (string, error) {
	return codec.AESCBCEncrypt(s.key[:], s.iv[:], plaintext)
}

// decrypt reverses encrypt.
func (s *aesSession) decrypt(b64 string) ([]byte, error) {
	return codec.AESCBCDecrypt(s.key[:], s.iv[:], b64)
}
