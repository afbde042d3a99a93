package transport

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cloudkucooland/gokasa/codec"
	"github.com/cloudkucooland/gokasa/credentials"
	"github.com/cloudkucooland/gokasa/httpclient"
	"github.com/cloudkucooland/gokasa/kerrors"
	"github.com/sirupsen/logrus"
)

// handshakeContentLength is the fixed Content-Length the device
// requires on the handshake POST body.
const handshakeContentLength = "314"

// AESTransport implements RSA handshake -> AES session ->
// securePassthrough envelope -> login -> token URL.
type AESTransport struct {
	host         string
	baseURL      string
	creds        credentials.Credentials
	loginVersion int
	timeout      time.Duration
	log          *logrus.Entry

	http *httpclient.Client

	mu               sync.Mutex
	state            State
	keypair          *rsa.PrivateKey
	session          *aesSession
	tokenURL         string
	sessionExpiresAt time.Time
	usedDefaultRetry bool
}

// NewAESTransport builds an AES-passthrough transport. If cachedKey is
// non-nil it is restored rather than regenerated.
func NewAESTransport(host string, https bool, creds credentials.Credentials, loginVersion int, cachedKey *rsa.PrivateKey, timeout time.Duration, log *logrus.Entry) (*AESTransport, error) {
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
	if loginVersion != 1 && loginVersion != 2 {
		loginVersion = 2
	}
	return &AESTransport{
		host:         host,
		baseURL:      fmt.Sprintf("%s://%s/app", scheme, host),
		creds:        creds,
		loginVersion: loginVersion,
		timeout:      timeout,
		log:          log.WithField("transport", "aes"),
		http:         c,
		state:        StateHandshakeRequired,
		keypair:      cachedKey,
	}, nil
}

// CredentialsHash renders the login params as the opaque
// credentials_hash base64 blob: base64 JSON of {username,passwordX}
// for the chosen login version.
func CredentialsHash(creds credentials.Credentials, loginVersion int) string {
	params := loginParams(creds, loginVersion)
	raw, _ := json.Marshal(params)
	return base64.StdEncoding.EncodeToString(raw)
}

func loginParams(creds credentials.Credentials, loginVersion int) map[string]string {
	username := base64.StdEncoding.EncodeToString(codec.SHA1Sum([]byte(creds.Username)))
	if loginVersion == 2 {
		password := base64.StdEncoding.EncodeToString(codec.SHA1Sum([]byte(creds.Password)))
		return map[string]string{"username": username, "password2": password}
	}
	password := base64.StdEncoding.EncodeToString([]byte(creds.Password))
	return map[string]string{"username": username, "password": password}
}

// Send drives handshake/login as needed, wraps request in
// securePassthrough, and returns the decrypted response payload.
func (t *AESTransport) Send(ctx context.Context, request []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateHandshakeRequired || t.sessionExpired() {
		if err := t.handshake(ctx); err != nil {
			return nil, err
		}
	}
	if t.state == StateLoginRequired {
		if err := t.login(ctx); err != nil {
			return nil, err
		}
	}

	return t.securePassthrough(ctx, request)
}

func (t *AESTransport) handshake(ctx context.Context) error {
	if t.keypair == nil {
		key, err := codec.GenerateKeypair(codec.HandshakeKeyBits)
		if err != nil {
			return kerrors.Internal(err)
		}
		t.keypair = key
	}

	body, _ := json.Marshal(map[string]interface{}{
		"method": "handshake",
		"params": map[string]string{"key": string(codec.PublicKeyPEM(t.keypair))},
	})
	// net/http sends the body's real length as Content-Length, so pad
	// the body with trailing JSON whitespace up to the required length.
	if want, err := strconv.Atoi(handshakeContentLength); err == nil {
		for len(body) < want {
			body = append(body, ' ')
		}
	}

	resp, err := t.http.PostBytes(ctx, t.baseURL, body, map[string]string{
		"Content-Type":   "application/json",
		"Content-Length": handshakeContentLength,
	})
	if err != nil {
		return classifyConnErr(err)
	}
	if resp.Status != http.StatusOK {
		return kerrors.Device(resp.Status, fmt.Errorf("aes: handshake returned status %d", resp.Status))
	}

	var decoded struct {
		ErrorCode int `json:"error_code"`
		Result    struct {
			Key string `json:"key"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Bytes, &decoded); err != nil {
		return kerrors.Internal(fmt.Errorf("aes: decode handshake response: %w", err))
	}
	if decoded.ErrorCode != 0 {
		return kerrors.FromCode(decoded.ErrorCode, false, "aes handshake failed")
	}

	secret, err := codec.DecryptPKCS1(t.keypair, decoded.Result.Key)
	if err != nil {
		return kerrors.Internal(fmt.Errorf("aes: decrypt session key: %w", err))
	}
	if len(secret) < 32 {
		return kerrors.Internal(fmt.Errorf("aes: session secret too short: %d bytes", len(secret)))
	}
	t.session = newAESSession(secret[:16], secret[16:32])

	t.sessionExpiresAt = time.Now().Add(t.cookieTimeout() - sessionSafetyMargin)
	t.tokenURL = ""
	t.state = StateLoginRequired
	return nil
}

func (t *AESTransport) login(ctx context.Context) error {
	params := loginParams(t.creds, t.loginVersion)
	paramsAny := map[string]interface{}{"username": params["username"]}
	if v, ok := params["password2"]; ok {
		paramsAny["password2"] = v
	} else {
		paramsAny["password"] = params["password"]
	}

	reqBody, _ := json.Marshal(map[string]interface{}{
		"method":             "login_device",
		"params":             paramsAny,
		"request_time_milis": time.Now().UnixMilli(),
	})

	result, err := t.securePassthroughRaw(ctx, reqBody, t.baseURL)
	if err != nil {
		if kerrors.KindOf(err) == kerrors.KindAuth && !t.usedDefaultRetry && !t.creds.Equal(credentials.TapoDefault) {
			// A single LOGIN_ERROR retries once with the embedded Tapo
			// defaults after a fresh handshake.
			t.usedDefaultRetry = true
			t.creds = credentials.TapoDefault
			t.state = StateHandshakeRequired
			if err2 := t.handshake(ctx); err2 != nil {
				return err2
			}
			return t.login(ctx)
		}
		return err
	}

	var decoded struct {
		ErrorCode int `json:"error_code"`
		Result    struct {
			Token string `json:"token"`
		} `json:"result"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return kerrors.Internal(fmt.Errorf("aes: decode login response: %w", err))
	}
	if decoded.ErrorCode != 0 {
		return kerrors.Auth(fmt.Errorf("aes: login_device failed, error_code=%d", decoded.ErrorCode))
	}

	t.tokenURL = fmt.Sprintf("%s?token=%s", t.baseURL, decoded.Result.Token)
	t.state = StateEstablished
	return nil
}

func (t *AESTransport) securePassthrough(ctx context.Context, request []byte) ([]byte, error) {
	url := t.baseURL
	if t.state == StateEstablished && t.tokenURL != "" {
		url = t.tokenURL
	}
	return t.securePassthroughRaw(ctx, request, url)
}

func (t *AESTransport) securePassthroughRaw(ctx context.Context, request []byte, url string) ([]byte, error) {
	encrypted, err := t.session.encrypt(request)
	if err != nil {
		return nil, kerrors.Internal(err)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"method": "securePassthrough",
		"params": map[string]string{"request": encrypted},
	})

	resp, err := t.http.PostBytes(ctx, url, body, map[string]string{"Content-Type": "application/json"})
	if err != nil {
		t.state = StateHandshakeRequired
		return nil, classifyConnErr(err)
	}
	if resp.Status != http.StatusOK {
		t.state = StateHandshakeRequired
		return nil, kerrors.Device(resp.Status, fmt.Errorf("aes: securePassthrough returned status %d", resp.Status))
	}

	var decoded struct {
		ErrorCode int `json:"error_code"`
		Result    struct {
			Response string `json:"response"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Bytes, &decoded); err != nil {
		return nil, kerrors.Internal(fmt.Errorf("aes: decode securePassthrough envelope: %w", err))
	}
	if decoded.ErrorCode != 0 {
		kind := kerrors.ClassifyCode(decoded.ErrorCode, t.state == StateEstablished)
		if kind == kerrors.KindAuth {
			t.state = StateHandshakeRequired
		}
		return nil, kerrors.FromCode(decoded.ErrorCode, t.state == StateEstablished, "securePassthrough failed")
	}

	plain, err := t.session.decrypt(decoded.Result.Response)
	if err != nil {
		// If decryption fails but the payload is already JSON, treat
		// it as unwrapped.
		if json.Valid([]byte(decoded.Result.Response)) {
			return []byte(decoded.Result.Response), nil
		}
		return nil, kerrors.Internal(fmt.Errorf("aes: decrypt securePassthrough response: %w", err))
	}
	return plain, nil
}

func (t *AESTransport) cookieTimeout() time.Duration {
	if val, ok := t.http.GetCookie(t.baseURL, "TIMEOUT"); ok {
		if secs, err := strconv.ParseInt(val, 10, 64); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultSessionTimeout
}

func (t *AESTransport) sessionExpired() bool {
	return !t.sessionExpiresAt.IsZero() && time.Now().After(t.sessionExpiresAt)
}

// Reset drops session/login state, keeping the HTTP client (and its
// cookie jar) and the cached RSA keypair alive.
func (t *AESTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateHandshakeRequired
	t.session = nil
	t.tokenURL = ""
}

// Close releases everything including the cached keypair.
func (t *AESTransport) Close() error {
	t.Reset()
	t.mu.Lock()
	t.keypair = nil
	t.mu.Unlock()
	return nil
}

// Keypair exposes the RSA keypair in use, so a caller can persist it
// into DeviceConfig.AESKeys for faster reconnects.
func (t *AESTransport) Keypair() *rsa.PrivateKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keypair
}
