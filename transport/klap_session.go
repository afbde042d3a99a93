package transport

import (
	"encoding/binary"

	"github.com/cloudkucooland/gokasa/codec"
)

// klapSession is the KLAP encryption session's value: every field but
// seq is immutable once derived; seq is incremented before each
// encrypt and nothing else mutates.
type klapSession struct {
	localSeed  [16]byte
	remoteSeed [16]byte
	authHash   []byte // 16 (v1) or 32 (v2) bytes

	key    [16]byte
	ivBase [12]byte
	sig    [28]byte
	seq    int32
}

// newKLAPSession derives key/ivBase/seq/sig from the seeds and the
// winning auth hash:
//
//	key[16]    = SHA256("lsk"|ls|rs|ah)[0..16]
//	iv_base[12]= SHA256("iv"|ls|rs|ah)[0..12]
//	seq        = int32be(SHA256("iv"|ls|rs|ah)[28..32])
//	sig[28]    = SHA256("ldk"|ls|rs|ah)[0..28]
func newKLAPSession(localSeed, remoteSeed [16]byte, authHash []byte) *klapSession {
	s := &klapSession{localSeed: localSeed, remoteSeed: remoteSeed, authHash: authHash}

	keyDigest := codec.SHA256Sum([]byte("lsk"), localSeed[:], remoteSeed[:], authHash)
	copy(s.key[:], keyDigest[:16])

	ivDigest := codec.SHA256Sum([]byte("iv"), localSeed[:], remoteSeed[:], authHash)
	copy(s.ivBase[:], ivDigest[:12])
	s.seq = int32(binary.BigEndian.Uint32(ivDigest[28:32]))

	sigDigest := codec.SHA256Sum([]byte("ldk"), localSeed[:], remoteSeed[:], authHash)
	copy(s.sig[:], sigDigest[:28])

	return s
}

// ivFor builds the 16-byte IV for seq: ivBase (12 bytes) || seq (4
// bytes big-endian).
func (s *klapSession) ivFor(seq int32) []byte {
	iv := make([]byte, 16)
	copy(iv, s.ivBase[:])
	binary.BigEndian.PutUint32(iv[12:], uint32(seq))
	return iv
}

// encrypt increments seq, then encrypts plaintext and signs it. It
// returns the wire body (signature||cipher) and the seq used, which
// the caller must put on the request URL.
func (s *klapSession) encrypt(plaintext []byte) (wire []byte, seq int32, err error) {
	s.seq++
	seq = s.seq

	cipher, err := codec.AESCBCEncryptRaw(s.key[:], s.ivFor(seq), plaintext)
	if err != nil {
		return nil, 0, err
	}

	sig := s.signature(seq, cipher)
	wire = make([]byte, 0, len(sig)+len(cipher))
	wire = append(wire, sig...)
	wire = append(wire, cipher...)
	return wire, seq, nil
}

// decrypt drops the signature on a response body (the first 32 bytes,
// not checked) and decrypts the remainder for the given seq (the seq
// used for the matching request).
func (s *klapSession) decrypt(body []byte, seq int32) ([]byte, error) {
	if len(body) < 32 {
		return nil, errShortPayload
	}
	cipher := body[32:]
	plain, err := codec.AESCBCDecryptRaw(s.key[:], s.ivFor(seq), cipher)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

func (s *klapSession) signature(seq int32, cipher []byte) []byte {
	seqBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(seqBytes, uint32(seq))
	return codec.SHA256Sum(s.sig[:], seqBytes, cipher)
}
