package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/cloudkucooland/gokasa/codec"
	"github.com/cloudkucooland/gokasa/httpclient"
	"github.com/cloudkucooland/gokasa/kerrors"
	"github.com/sirupsen/logrus"
)

// noRetryErrnos is the connect-time error set classifyDialErr matches
// by message. It maps them to a ConnectionError like any other
// non-timeout dial failure, so the retry loop retries them as well.
var noRetryErrnos = map[string]struct{}{
	"host is down":              {},
	"no route to host":          {},
	"connection refused":        {},
}

// XORTransport speaks the legacy length-prefixed XOR framing over TCP
// port 9999, or tunnels plain JSON over HTTP POST "/" when the
// configured port is 80. It carries no credentials and
// no session.
type XORTransport struct {
	host    string
	port    int
	timeout time.Duration
	log     *logrus.Entry

	httpClient *httpclient.Client // only used when port == 80
}

// NewXORTransport builds a transport for host:port.
func NewXORTransport(host string, port int, timeout time.Duration, log *logrus.Entry) (*XORTransport, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	t := &XORTransport{host: host, port: port, timeout: timeout, log: log.WithField("transport", "xor")}
	if port == 80 {
		c, err := httpclient.New(httpclient.Options{Host: host, Timeout: timeout, Logger: log})
		if err != nil {
			return nil, err
		}
		t.httpClient = c
	}
	return t, nil
}

// Send transmits request (already-serialized JSON) and returns the
// decoded JSON response bytes.
func (t *XORTransport) Send(ctx context.Context, request []byte) ([]byte, error) {
	if t.port == 80 {
		return t.sendHTTP(ctx, request)
	}
	return t.sendTCP(ctx, request)
}

func (t *XORTransport) sendHTTP(ctx context.Context, request []byte) ([]byte, error) {
	url := fmt.Sprintf("http://%s/", t.host)
	resp, err := t.httpClient.PostBytes(ctx, url, request, map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return nil, classifyConnErr(err)
	}
	if resp.Status != 200 {
		return nil, kerrors.Device(resp.Status, fmt.Errorf("xor http transport: unexpected status %d", resp.Status))
	}
	return resp.Bytes, nil
}

func (t *XORTransport) sendTCP(ctx context.Context, request []byte) ([]byte, error) {
	addr := net.JoinHostPort(t.host, fmt.Sprintf("%d", t.port))
	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		return nil, classifyDialErr(err)
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	deadline := time.Now().Add(t.timeout)
	_ = conn.SetDeadline(deadline)

	framed := codec.EncryptRequest(request)
	if _, err := conn.Write(framed); err != nil {
		return nil, classifyConnErr(err)
	}

	lenBuf := make([]byte, 4)
	if _, err := readFull(conn, lenBuf); err != nil {
		return nil, classifyConnErr(err)
	}
	n := binary.BigEndian.Uint32(lenBuf)
	// Guard against a corrupt/hostile length prefix driving an
	// unbounded allocation.
	if n > 16<<20 {
		return nil, kerrors.Internal(fmt.Errorf("xor tcp transport: implausible frame length %d", n))
	}
	body := make([]byte, n)
	if _, err := readFull(conn, body); err != nil {
		return nil, classifyConnErr(err)
	}

	decrypted := codec.XORDecrypt(body)
	var probe json.RawMessage
	if err := json.Unmarshal(decrypted, &probe); err != nil {
		return nil, kerrors.Internal(fmt.Errorf("xor tcp transport: invalid json response: %w", err))
	}
	return decrypted, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Reset is a no-op: XOR-TCP carries no session state to drop.
func (t *XORTransport) Reset() {}

// Close is a no-op: the TCP path re-dials per request, and the HTTP
// client used on port 80 is left to the garbage collector.
func (t *XORTransport) Close() error { return nil }

func classifyDialErr(err error) error {
	msg := err.Error()
	for errno := range noRetryErrnos {
		if containsSub(msg, errno) {
			return kerrors.Connection(err)
		}
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return kerrors.Timeout(err)
	}
	return kerrors.Connection(err)
}

func classifyConnErr(err error) error {
	switch httpclient.Classify(err) {
	case httpclient.ConnErrorTimeout:
		return kerrors.Timeout(err)
	default:
		return kerrors.Connection(err)
	}
}

func containsSub(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
