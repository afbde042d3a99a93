package transport

import (
	"crypto/sha1"
	"crypto/sha256"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func seed(b byte) [16]byte {
	var s [16]byte
	for i := range s {
		s[i] = b
	}
	return s
}

func TestKLAPSeqMonotonic(t *testing.T) {
	s := newKLAPSession(seed(0x01), seed(0x02), []byte("authhash"))
	start := s.seq

	for i := int32(1); i <= 3; i++ {
		_, seq, err := s.encrypt([]byte("{}"))
		require.NoError(t, err)
		require.Equal(t, start+i, seq)
	}
}

func TestKLAPEncryptDecryptRoundTrip(t *testing.T) {
	s := newKLAPSession(seed(0x03), seed(0x04), []byte("another-auth-hash-value"))

	plaintext := []byte(`{"method":"get_device_info"}`)
	wire, seq, err := s.encrypt(plaintext)
	require.NoError(t, err)

	decoded, err := s.decrypt(wire, seq)
	require.NoError(t, err)
	require.Equal(t, plaintext, decoded)
}

func TestKLAPRequestURLMatchesSeq(t *testing.T) {
	s := newKLAPSession(seed(0x05), seed(0x06), []byte("yet-another-hash"))
	_, seq, err := s.encrypt([]byte("{}"))
	require.NoError(t, err)

	u, err := url.Parse("http://device/app/request")
	require.NoError(t, err)
	q := u.Query()
	q.Set("seq", itoa(seq))
	u.RawQuery = q.Encode()
	require.Contains(t, u.String(), "seq="+itoa(seq))
}

func itoa(n int32) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// TestKLAPHandshake1TagKnownVector checks a known vector:
// local_seed = 16x0x01, remote_seed = 16x0x02, username="a",
// password="b"; auth_hash = SHA256(SHA1("a")||SHA1("b")); the expected
// server_tag = SHA256(local_seed||remote_seed||auth_hash).
func TestKLAPHandshake1TagKnownVector(t *testing.T) {
	ls := seed(0x01)
	rs := seed(0x02)

	uh := sha1.Sum([]byte("a"))
	ph := sha1.Sum([]byte("b"))
	authHash := sha256.Sum256(append(append([]byte{}, uh[:]...), ph[:]...))

	expected := sha256.Sum256(append(append(append([]byte{}, ls[:]...), rs[:]...), authHash[:]...))

	got := klapHandshake1Tag(true, ls, rs, authHash[:])
	require.Equal(t, expected[:], got)

	// and our own helper derives the same auth_hash independently
	require.Equal(t, authHash[:], klapAuthHashV2("a", "b"))
}

func TestKLAPHandshake2PayloadAsymmetryPreserved(t *testing.T) {
	ls := seed(0x07)
	rs := seed(0x08)
	ah := []byte("some-auth-hash-material-32-bytes")

	v1 := klapHandshake2Payload(false, ls, rs, ah)
	v2 := klapHandshake2Payload(true, ls, rs, ah)
	// v1 omits local_seed where v2 includes it. Confirm the two
	// formulas genuinely diverge rather than silently collapsing to
	// the same computation.
	require.NotEqual(t, v1, v2)
}
