// Package devicesim plays the device side of the AES-passthrough and
// KLAP HTTP-tunnelled protocols, so the transport and protocol test
// suites exercise the real wire format end-to-end without hitting a
// physical device. Grounded on tfhttp's mux.NewRouter() plus
// http.Server{WriteTimeout, ReadTimeout, IdleTimeout} pattern.
package devicesim

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/cloudkucooland/gokasa/codec"
	"github.com/cloudkucooland/gokasa/credentials"
)

// Mode selects which of the two HTTP-tunnelled protocols a Server
// speaks.
type Mode int

const (
	ModeKLAP Mode = iota
	ModeAES
)

// Handler answers one decrypted application-layer request, the way a
// real device's command dispatcher would.
type Handler func(request map[string]interface{}) (map[string]interface{}, error)

// Server is an in-process HTTP server simulating one device's session
// handshake and request routes.
type Server struct {
	mode    Mode
	creds   credentials.Credentials
	klapV2  bool
	handle  Handler
	srv     *http.Server
	ln      net.Listener
	addr    string

	mu       sync.Mutex
	klap     *klapServerSession
	aes      *aesServerSession
	loggedIn bool
}

// Options configures a Server.
type Options struct {
	Mode Mode
	// Creds is the only (username, password) pair the simulated device
	// accepts; in KLAP mode its auth hash alone produces the handshake
	// tag, so a client that falls back to credentials.KnownDefaults or
	// credentials.Blank matches only if Creds is one of them.
	Creds credentials.Credentials
	// KLAPV2 selects the SHA256/SHA1 handshake variant for ModeKLAP;
	// ignored for ModeAES.
	KLAPV2 bool
	// Handle answers decrypted application requests once a session is
	// established. A nil Handle answers every request with an empty
	// result object.
	Handle Handler
}

// New starts a Server listening on an ephemeral local port.
func New(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("devicesim: listen: %w", err)
	}

	s := &Server{
		mode:   opts.Mode,
		creds:  opts.Creds,
		klapV2: opts.KLAPV2,
		handle: opts.Handle,
		ln:     ln,
		addr:   ln.Addr().String(),
	}
	if s.handle == nil {
		s.handle = func(map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		}
	}

	r := mux.NewRouter()
	switch opts.Mode {
	case ModeKLAP:
		r.HandleFunc("/app/handshake1", s.klapHandshake1).Methods(http.MethodPost)
		r.HandleFunc("/app/handshake2", s.klapHandshake2).Methods(http.MethodPost)
		r.HandleFunc("/app/request", s.klapRequest).Methods(http.MethodPost)
	case ModeAES:
		r.HandleFunc("/app", s.aesApp).Methods(http.MethodPost)
	}

	s.srv = &http.Server{
		Handler:      r,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		_ = s.srv.Serve(ln)
	}()
	return s, nil
}

// Addr returns the "host:port" this Server is listening on.
func (s *Server) Addr() string { return s.addr }

// Mode reports which protocol this Server simulates.
func (s *Server) Mode() Mode { return s.mode }

// LoggedIn reports whether a client has completed AES-passthrough
// login on the current session. Always false in ModeKLAP, which has
// no separate login step.
func (s *Server) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// Close shuts the server down.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// --- KLAP session simulation ---

type klapServerSession struct {
	localSeed  [16]byte
	remoteSeed [16]byte
	authHash   []byte
	key        [16]byte
	ivBase     [12]byte
	sig        [28]byte
}

func deriveKLAPKeys(localSeed, remoteSeed [16]byte, authHash []byte) (key [16]byte, ivBase [12]byte, sig [28]byte) {
	keyDigest := codec.SHA256Sum([]byte("lsk"), localSeed[:], remoteSeed[:], authHash)
	copy(key[:], keyDigest[:16])
	ivDigest := codec.SHA256Sum([]byte("iv"), localSeed[:], remoteSeed[:], authHash)
	copy(ivBase[:], ivDigest[:12])
	sigDigest := codec.SHA256Sum([]byte("ldk"), localSeed[:], remoteSeed[:], authHash)
	copy(sig[:], sigDigest[:28])
	return
}

func klapIVFor(ivBase [12]byte, seq int32) []byte {
	iv := make([]byte, 16)
	copy(iv, ivBase[:])
	binary.BigEndian.PutUint32(iv[12:], uint32(seq))
	return iv
}

func klapSignature(sig [28]byte, seq int32, cipher []byte) []byte {
	seqBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(seqBytes, uint32(seq))
	return codec.SHA256Sum(sig[:], seqBytes, cipher)
}

func klapAuthHash(v2 bool, c credentials.Credentials) []byte {
	if v2 {
		return codec.SHA256Sum(codec.SHA1Sum([]byte(c.Username)), codec.SHA1Sum([]byte(c.Password)))
	}
	u := codec.MD5Sum([]byte(c.Username))
	p := codec.MD5Sum([]byte(c.Password))
	return codec.MD5Sum(u, p)
}

func klapHandshake1Tag(v2 bool, localSeed, remoteSeed [16]byte, authHash []byte) []byte {
	if v2 {
		return codec.SHA256Sum(localSeed[:], remoteSeed[:], authHash)
	}
	return codec.SHA256Sum(localSeed[:], authHash)
}

func klapHandshake2Expected(v2 bool, localSeed, remoteSeed [16]byte, authHash []byte) []byte {
	if v2 {
		return codec.SHA256Sum(remoteSeed[:], localSeed[:], authHash)
	}
	return codec.SHA256Sum(remoteSeed[:], authHash)
}

func (s *Server) klapHandshake1(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) != 16 {
		http.Error(w, "bad local seed", http.StatusBadRequest)
		return
	}
	var localSeed [16]byte
	copy(localSeed[:], body)

	var remoteSeed [16]byte
	if _, err := rand.Read(remoteSeed[:]); err != nil {
		http.Error(w, "rng failure", http.StatusInternalServerError)
		return
	}

	authHash := klapAuthHash(s.klapV2, s.creds)
	tag := klapHandshake1Tag(s.klapV2, localSeed, remoteSeed, authHash)

	s.mu.Lock()
	s.klap = &klapServerSession{localSeed: localSeed, remoteSeed: remoteSeed, authHash: authHash}
	s.mu.Unlock()

	resp := append(append([]byte{}, remoteSeed[:]...), tag...)
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(resp)
}

func (s *Server) klapHandshake2(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	sess := s.klap
	s.mu.Unlock()
	if sess == nil {
		http.Error(w, "no handshake1", http.StatusBadRequest)
		return
	}

	expected := klapHandshake2Expected(s.klapV2, sess.localSeed, sess.remoteSeed, sess.authHash)
	if !bytes.Equal(body, expected) {
		http.Error(w, "handshake2 mismatch", http.StatusForbidden)
		return
	}

	key, ivBase, sig := deriveKLAPKeys(sess.localSeed, sess.remoteSeed, sess.authHash)
	s.mu.Lock()
	sess.key, sess.ivBase, sess.sig = key, ivBase, sig
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "TIMEOUT", Value: "86400"})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) klapRequest(w http.ResponseWriter, r *http.Request) {
	seq, err := parseSeqQuery(r.URL.Query().Get("seq"))
	if err != nil {
		http.Error(w, "bad seq", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) < 32 {
		http.Error(w, "short body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	sess := s.klap
	s.mu.Unlock()
	if sess == nil {
		http.Error(w, "no session", http.StatusForbidden)
		return
	}

	sig := body[:32]
	cipher := body[32:]
	if !bytes.Equal(sig, klapSignature(sess.sig, seq, cipher)) {
		http.Error(w, "bad signature", http.StatusForbidden)
		return
	}

	plain, err := codec.AESCBCDecryptRaw(sess.key[:], klapIVFor(sess.ivBase, seq), cipher)
	if err != nil {
		http.Error(w, "decrypt failure", http.StatusForbidden)
		return
	}

	var req map[string]interface{}
	if err := json.Unmarshal(plain, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	respPayload, herr := s.handle(req)
	if herr != nil {
		respPayload = map[string]interface{}{"error_code": -1}
	}
	respBytes, _ := json.Marshal(respPayload)

	respCipher, err := codec.AESCBCEncryptRaw(sess.key[:], klapIVFor(sess.ivBase, seq), respBytes)
	if err != nil {
		http.Error(w, "encrypt failure", http.StatusInternalServerError)
		return
	}
	respSig := klapSignature(sess.sig, seq, respCipher)

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(append(append([]byte{}, respSig...), respCipher...))
}

// --- AES-passthrough session simulation ---

type aesServerSession struct {
	key   [16]byte
	iv    [16]byte
	token string
}

func (s *Server) aesApp(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	var env struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "bad envelope", http.StatusBadRequest)
		return
	}

	switch env.Method {
	case "handshake":
		s.aesHandshake(w, r, env.Params)
	case "securePassthrough":
		s.aesSecurePassthrough(w, r, env.Params)
	default:
		http.Error(w, "unknown method", http.StatusBadRequest)
	}
}

func (s *Server) aesHandshake(w http.ResponseWriter, r *http.Request, params json.RawMessage) {
	if cl := r.Header.Get("Content-Length"); cl != "314" {
		http.Error(w, "bad content-length", http.StatusInternalServerError)
		return
	}
	var p struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		http.Error(w, "bad handshake params", http.StatusBadRequest)
		return
	}
	block, _ := pem.Decode([]byte(p.Key))
	if block == nil {
		http.Error(w, "bad pem", http.StatusBadRequest)
		return
	}
	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		http.Error(w, "bad pubkey", http.StatusBadRequest)
		return
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		http.Error(w, "rng failure", http.StatusInternalServerError)
		return
	}
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, pub, secret)
	if err != nil {
		http.Error(w, "encrypt failure", http.StatusInternalServerError)
		return
	}

	sess := &aesServerSession{}
	copy(sess.key[:], secret[:16])
	copy(sess.iv[:], secret[16:32])
	s.mu.Lock()
	s.aes = sess
	s.loggedIn = false
	s.mu.Unlock()

	writeJSON(w, map[string]interface{}{
		"error_code": 0,
		"result":     map[string]interface{}{"key": b64(encrypted)},
	})
}

func (s *Server) aesSecurePassthrough(w http.ResponseWriter, r *http.Request, params json.RawMessage) {
	var p struct {
		Request string `json:"request"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		http.Error(w, "bad passthrough params", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	sess := s.aes
	s.mu.Unlock()
	if sess == nil {
		http.Error(w, "no session", http.StatusForbidden)
		return
	}

	plain, err := codec.AESCBCDecrypt(sess.key[:], sess.iv[:], p.Request)
	if err != nil {
		http.Error(w, "decrypt failure", http.StatusForbidden)
		return
	}

	var inner struct {
		Method string                 `json:"method"`
		Params map[string]interface{} `json:"params"`
	}
	if err := json.Unmarshal(plain, &inner); err != nil {
		http.Error(w, "bad inner request", http.StatusBadRequest)
		return
	}

	var respPayload map[string]interface{}
	switch inner.Method {
	case "login_device":
		token := fmt.Sprintf("devicesim-token-%d", time.Now().UnixNano())
		s.mu.Lock()
		sess.token = token
		s.loggedIn = true
		s.mu.Unlock()
		respPayload = map[string]interface{}{"error_code": 0, "result": map[string]interface{}{"token": token}}
	default:
		out, herr := s.handle(map[string]interface{}{"method": inner.Method, "params": inner.Params})
		if herr != nil {
			respPayload = map[string]interface{}{"error_code": -1}
		} else {
			respPayload = map[string]interface{}{"error_code": 0, "result": out}
		}
	}

	respBytes, _ := json.Marshal(respPayload)
	encrypted, err := codec.AESCBCEncrypt(sess.key[:], sess.iv[:], respBytes)
	if err != nil {
		http.Error(w, "encrypt failure", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"error_code": 0,
		"result":     map[string]interface{}{"response": encrypted},
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func parseSeqQuery(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("devicesim: bad seq %q: %w", s, err)
	}
	return int32(n), nil
}
