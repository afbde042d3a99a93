// Package httpclient wraps net/http with the behaviour every
// HTTP-tunnelled transport needs: a POST helper that sends JSON or raw
// bytes, a cookie jar scoped to the client, transport-error
// classification, permissive TLS when a device insists on HTTPS with a
// self-signed certificate and a restricted cipher list, and the
// sticky 250ms post-reset delay some firmware requires.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ConnErrorClass partitions the connection-failure space into the
// buckets callers need to react differently to.
type ConnErrorClass int

const (
	ConnErrorOther ConnErrorClass = iota
	ConnErrorTimeout
	ConnErrorReset
)

// resetGrace is the fixed sticky delay applied to the next request
// after a reset/broken-pipe, a workaround for a device firmware quirk.
const resetGrace = 250 * time.Millisecond

// tlsCipherSuites is the restricted AES cipher list devices expect for
// the HTTPS variant: AES256-GCM-SHA384, AES128-GCM-SHA256,
// AES128-SHA256, AES256-SHA. AES256-SHA256 has no Go stdlib constant
// and is omitted.
var tlsCipherSuites = []uint16{
	tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_RSA_WITH_AES_128_CBC_SHA256,
	tls.TLS_RSA_WITH_AES_256_CBC_SHA,
}

// Client is a single device's HTTP client: one cookie jar, one
// transport-error-aware POST method, reused across every query.
type Client struct {
	log    *logrus.Entry
	http   *http.Client
	jar    http.CookieJar
	host   string

	mu     sync.Mutex
	sticky bool
}

// Options configures a new Client.
type Options struct {
	Host    string
	Timeout time.Duration
	UseTLS  bool
	Logger  *logrus.Entry
}

// New builds a Client for one device host.
func New(opts Options) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: new cookie jar: %w", err)
	}

	transport := &http.Transport{}
	if opts.UseTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
			CipherSuites:       tlsCipherSuites,
			MinVersion:         tls.VersionTLS12,
		}
	}

	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Client{
		log:  log.WithField("host", opts.Host),
		host: opts.Host,
		jar:  jar,
		http: &http.Client{
			Jar:       jar,
			Timeout:   opts.Timeout,
			Transport: transport,
		},
	}, nil
}

// GetCookie returns the value of a cookie previously captured for url,
// or ("", false) if absent.
func (c *Client) GetCookie(rawURL, name string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	for _, ck := range c.jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value, true
		}
	}
	return "", false
}

// Response is the result of a POST: the HTTP status and the decoded
// (or raw) body.
type Response struct {
	Status int
	JSON   map[string]interface{}
	Bytes  []byte
}

// PostJSON sends body as a JSON request and parses the response as
// JSON.
func (c *Client) PostJSON(ctx context.Context, url string, body interface{}, headers map[string]string) (*Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: marshal request: %w", err)
	}
	resp, err := c.post(ctx, url, raw, headers)
	if err != nil {
		return nil, err
	}
	if len(resp.Bytes) > 0 {
		var decoded map[string]interface{}
		if err := json.Unmarshal(resp.Bytes, &decoded); err == nil {
			resp.JSON = decoded
		}
	}
	return resp, nil
}

// PostBytes sends raw bytes (used by KLAP's octet-stream handshake and
// request bodies) and returns the raw response body unparsed.
func (c *Client) PostBytes(ctx context.Context, url string, body []byte, headers map[string]string) (*Response, error) {
	return c.post(ctx, url, body, headers)
}

func (c *Client) post(ctx context.Context, url string, body []byte, headers map[string]string) (*Response, error) {
	c.applyStickyDelay(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		class := Classify(err)
		c.log.WithError(err).WithField("class", class).Debug("post failed")
		if class == ConnErrorReset {
			c.armStickyDelay()
		}
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}

	return &Response{Status: resp.StatusCode, Bytes: raw}, nil
}

// armStickyDelay marks that every later request from this client
// should wait out resetGrace first.
func (c *Client) armStickyDelay() {
	c.mu.Lock()
	c.sticky = true
	c.mu.Unlock()
}

func (c *Client) applyStickyDelay(ctx context.Context) {
	c.mu.Lock()
	sticky := c.sticky
	c.mu.Unlock()
	if !sticky {
		return
	}
	select {
	case <-time.After(resetGrace):
	case <-ctx.Done():
	}
}

// Classify buckets a transport error into a ConnErrorClass.
func Classify(err error) ConnErrorClass {
	if err == nil {
		return ConnErrorOther
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ConnErrorTimeout
	}
	if errors.Is(err, net.ErrClosed) {
		return ConnErrorReset
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, io.ErrUnexpectedEOF) {
			return ConnErrorReset
		}
		msg := opErr.Err.Error()
		if containsAny(msg, "reset by peer", "broken pipe", "EOF") {
			return ConnErrorReset
		}
	}
	if containsAny(err.Error(), "reset by peer", "broken pipe", "connection reset") {
		return ConnErrorReset
	}
	return ConnErrorOther
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
