package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cloudkucooland/gokasa/credentials"
	"github.com/cloudkucooland/gokasa/httpclient"
	"github.com/cloudkucooland/gokasa/kerrors"
	"github.com/sirupsen/logrus"
)

// defaultSessionTimeout is used if a device never sends a TIMEOUT
// cookie.
const defaultSessionTimeout = 24 * time.Hour

// sessionSafetyMargin is subtracted from the advertised session
// timeout so a client never races the device's own expiry.
const sessionSafetyMargin = 20 * time.Minute

// KLAPTransport implements the two-stage seed+auth-hash handshake and
// the per-request sequence-numbered envelope.
type KLAPTransport struct {
	host    string
	baseURL string
	v2      bool
	creds   credentials.Credentials
	timeout time.Duration
	log     *logrus.Entry

	http *httpclient.Client

	mu               sync.Mutex
	state            State
	session          *klapSession
	sessionExpiresAt time.Time
}

// NewKLAPTransport builds a KLAP transport. v2 selects the SHA256/SHA1
// auth-hash and handshake-tag variant; v1 uses the MD5 variant.
func NewKLAPTransport(host string, https bool, v2 bool, creds credentials.Credentials, timeout time.Duration, log *logrus.Entry) (*KLAPTransport, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c, err := httpclient.New(httpclient.Options{Host: host, Timeout: timeout, UseTLS: https, Logger: log})
	if err != nil {
		return nil, err
	}
	scheme := "http"
	if https {
		scheme = "https"
	}
	return &KLAPTransport{
		host:    host,
		baseURL: fmt.Sprintf("%s://%s/app", scheme, host),
		v2:      v2,
		creds:   creds,
		timeout: timeout,
		log:     log.WithField("transport", "klap"),
		http:    c,
		state:   StateHandshakeRequired,
	}, nil
}

// Send performs the handshake if needed, then encrypts and posts
// request, returning the decrypted response payload.
func (t *KLAPTransport) Send(ctx context.Context, request []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateEstablished || t.sessionExpired() {
		if err := t.handshake(ctx); err != nil {
			return nil, err
		}
	}

	wire, seq, err := t.session.encrypt(request)
	if err != nil {
		t.state = StateHandshakeRequired
		return nil, kerrors.Internal(err)
	}

	url := fmt.Sprintf("%s/request?seq=%d", t.baseURL, seq)
	resp, err := t.http.PostBytes(ctx, url, wire, map[string]string{"Content-Type": "application/octet-stream"})
	if err != nil {
		t.state = StateHandshakeRequired
		return nil, classifyConnErr(err)
	}

	if resp.Status == http.StatusForbidden {
		// 403 means the session is dead: force a new handshake on the
		// next call and signal retryable now.
		t.state = StateHandshakeRequired
		return nil, kerrors.Retryable(fmt.Errorf("klap: session expired (403)"))
	}
	if resp.Status != http.StatusOK {
		t.state = StateHandshakeRequired
		return nil, kerrors.Device(resp.Status, fmt.Errorf("klap: request returned status %d", resp.Status))
	}

	plain, err := t.session.decrypt(resp.Bytes, seq)
	if err != nil {
		t.state = StateHandshakeRequired
		return nil, kerrors.Internal(fmt.Errorf("klap: decrypt response: %w", err))
	}
	return plain, nil
}

// handshake drives handshake1 (seed exchange + tag verification
// against the caller's credentials, then each default set, then
// blank) and handshake2, deriving the session on success. Collapses
// login into handshake-2.
func (t *KLAPTransport) handshake(ctx context.Context) error {
	var localSeed [16]byte
	if _, err := rand.Read(localSeed[:]); err != nil {
		return kerrors.Internal(fmt.Errorf("klap: generate local seed: %w", err))
	}

	url1 := t.baseURL + "/handshake1"
	resp, err := t.http.PostBytes(ctx, url1, localSeed[:], map[string]string{"Content-Type": "application/octet-stream"})
	if err != nil {
		return classifyConnErr(err)
	}
	if resp.Status != http.StatusOK {
		return kerrors.Device(resp.Status, fmt.Errorf("klap: handshake1 returned status %d", resp.Status))
	}
	if len(resp.Bytes) != 48 {
		return kerrors.Internal(fmt.Errorf("klap: handshake1 response length %d, want 48", len(resp.Bytes)))
	}

	var remoteSeed [16]byte
	copy(remoteSeed[:], resp.Bytes[:16])
	serverTag := resp.Bytes[16:48]

	authHash, err := t.resolveAuthHash(localSeed, remoteSeed, serverTag)
	if err != nil {
		return err
	}

	url2 := t.baseURL + "/handshake2"
	payload := klapHandshake2Payload(t.v2, localSeed, remoteSeed, authHash)
	resp2, err := t.http.PostBytes(ctx, url2, payload, map[string]string{"Content-Type": "application/octet-stream"})
	if err != nil {
		return classifyConnErr(err)
	}
	if resp2.Status != http.StatusOK {
		// Any non-200 here is a DeviceError, not an auth error.
		return kerrors.Device(resp2.Status, fmt.Errorf("klap: handshake2 returned status %d", resp2.Status))
	}

	t.session = newKLAPSession(localSeed, remoteSeed, authHash)
	t.state = StateEstablished
	t.sessionExpiresAt = time.Now().Add(t.cookieTimeout() - sessionSafetyMargin)
	return nil
}

// resolveAuthHash tries the caller's credentials, then the known
// defaults, then blank, returning the first whose handshake1 tag
// matches the server's. No match is an AuthenticationError that is
// not retried.
func (t *KLAPTransport) resolveAuthHash(localSeed, remoteSeed [16]byte, serverTag []byte) ([]byte, error) {
	candidates := []credentials.Credentials{t.creds}
	candidates = append(candidates, credentials.KnownDefaults()...)
	candidates = append(candidates, credentials.Blank)

	for _, cand := range candidates {
		ah := t.authHashFor(cand)
		tag := klapHandshake1Tag(t.v2, localSeed, remoteSeed, ah)
		if bytes.Equal(tag, serverTag) {
			return ah, nil
		}
	}
	return nil, kerrors.Auth(fmt.Errorf("klap: handshake1 tag mismatch, no known credentials matched"))
}

func (t *KLAPTransport) authHashFor(c credentials.Credentials) []byte {
	if t.v2 {
		return klapAuthHashV2(c.Username, c.Password)
	}
	return klapAuthHashV1(c.Username, c.Password)
}

func (t *KLAPTransport) cookieTimeout() time.Duration {
	if val, ok := t.http.GetCookie(t.baseURL, "TIMEOUT"); ok {
		if secs, err := parseSeconds(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultSessionTimeout
}

func (t *KLAPTransport) sessionExpired() bool {
	return !t.sessionExpiresAt.IsZero() && time.Now().After(t.sessionExpiresAt)
}

// Reset drops the session/handshake state, forcing the next Send to
// rehandshake, but keeps the HTTP client (and its cookie jar) alive.
func (t *KLAPTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateHandshakeRequired
	t.session = nil
}

// Close is a no-op beyond Reset: the HTTP client has no persistent
// connection of its own to tear down.
func (t *KLAPTransport) Close() error {
	t.Reset()
	return nil
}

func parseSeconds(s string) (int64, error) {
	var n int64
	var sign int64 = 1
	i := 0
	if len(s) > 0 && s[0] == '-' {
		sign = -1
		i = 1
	}
	if i == len(s) {
		return 0, fmt.Errorf("httpclient: empty numeric cookie")
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("httpclient: non-numeric cookie value %q", s)
		}
		n = n*10 + int64(s[i]-'0')
	}
	return n * sign, nil
}
