// Package discovery implements the dual-port UDP discovery state
// machine: broadcasting (or unicasting) legacy and new-protocol
// probes, parsing whichever reply format comes back, and assembling a
// ready-to-use DeviceConfig from it.
package discovery

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudkucooland/gokasa/codec"
	"github.com/cloudkucooland/gokasa/kerrors"
)

// DefaultPackets is how many probe rounds one discovery run sends by
// default.
const DefaultPackets = 3

// DefaultTimeout bounds a broadcast discovery run when Options.Timeout
// is unset.
const DefaultTimeout = 5 * time.Second

// DefaultBroadcastAddr is used when Options.BroadcastAddr is unset.
const DefaultBroadcastAddr = "255.255.255.255"

// Options configures one discovery run.
type Options struct {
	Timeout       time.Duration
	Packets       int
	BroadcastAddr string
	Log           *logrus.Entry
}

func (o Options) effectiveTimeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o Options) effectivePackets() int {
	if o.Packets <= 0 {
		return DefaultPackets
	}
	return o.Packets
}

func (o Options) effectiveBroadcastAddr() string {
	if o.BroadcastAddr == "" {
		return DefaultBroadcastAddr
	}
	return o.BroadcastAddr
}

func (o Options) effectiveLog() *logrus.Entry {
	if o.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return o.Log
}

// probeInterval spaces successive probe rounds by max(100ms, timeout/N).
func probeInterval(timeout time.Duration, packets int) time.Duration {
	interval := timeout / time.Duration(packets)
	if interval < 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	return interval
}

// listen opens the one shared UDP socket a discovery run sends probes
// from and listens for replies on, with SO_BROADCAST and SO_REUSEADDR
// set where the platform supports it.
func listen() (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			ctrlErr := c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if ctrlErr != nil {
				return ctrlErr
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("discovery: open udp socket: %w", err)
	}
	return pc.(*net.UDPConn), nil
}

// Discover runs one broadcast discovery round for opts.effectiveTimeout(),
// returning one Result per responding IP (first reply per IP wins) plus
// any reply that failed to parse, keyed by IP.
func Discover(ctx context.Context, opts Options) (map[string]*Result, map[string]error) {
	return run(ctx, opts, opts.effectiveBroadcastAddr(), "")
}

// DiscoverSingle probes exactly one target and returns as soon as that
// IP replies, rather than waiting for the full timeout.
func DiscoverSingle(ctx context.Context, ip string, opts Options) (*Result, error) {
	results, errs := run(ctx, opts, ip, ip)
	if r, ok := results[ip]; ok {
		return r, nil
	}
	if err, ok := errs[ip]; ok {
		return nil, err
	}
	return nil, kerrors.Timeout(fmt.Errorf("discovery: no reply from %s", ip))
}

// run drives one probe/listen cycle. When earlyExitIP is non-empty the
// read loop stops as soon as that IP has replied instead of running
// for the full timeout.
func run(ctx context.Context, opts Options, target, earlyExitIP string) (map[string]*Result, map[string]error) {
	log := opts.effectiveLog()
	timeout := opts.effectiveTimeout()
	packets := opts.effectivePackets()
	interval := probeInterval(timeout, packets)

	conn, err := listen()
	if err != nil {
		return nil, map[string]error{target: err}
	}
	defer conn.Close()

	key, err := processKey()
	if err != nil {
		return nil, map[string]error{target: fmt.Errorf("discovery: process keypair: %w", err)}
	}
	newProbe, err := buildNewProbe(codec.PublicKeyPEM(key))
	if err != nil {
		return nil, map[string]error{target: err}
	}
	legacyProbe := buildLegacyProbe()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(map[string]*Result)
	errs := make(map[string]error)
	var mu sync.Mutex
	done := make(chan struct{})

	go readLoop(conn, runCtx, cancel, earlyExitIP, key, &mu, results, errs, log, done)
	go sendLoop(conn, runCtx, target, legacyProbe, newProbe, packets, interval, log)

	<-done
	return results, errs
}

func readLoop(conn *net.UDPConn, ctx context.Context, cancel context.CancelFunc, earlyExitIP string, key *rsa.PrivateKey, mu *sync.Mutex, results map[string]*Result, errs map[string]error, log *logrus.Entry, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 8192)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return
		}
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			log.WithError(err).Debug("discovery: read failed")
			return
		}

		ip := addr.IP.String()
		mu.Lock()
		_, seen := results[ip]
		mu.Unlock()
		if seen {
			continue
		}

		r, perr := classify(ip, addr.Port, buf[:n], key)

		mu.Lock()
		if perr != nil {
			errs[ip] = perr
		} else {
			results[ip] = r
		}
		matchedEarlyExit := earlyExitIP != "" && ip == earlyExitIP
		mu.Unlock()

		if matchedEarlyExit {
			cancel()
			return
		}
	}
}

// classify dispatches a reply by source port: legacy replies arrive
// from port 9999 and are XOR-decrypted JSON; new replies arrive from
// port 20002 behind a 16-byte header.
func classify(ip string, fromPort int, payload []byte, key *rsa.PrivateKey) (*Result, error) {
	switch fromPort {
	case LegacyProbePort:
		return parseLegacyReply(ip, codec.XORDecrypt(append([]byte(nil), payload...)))
	case NewProbePort:
		if len(payload) < newProbeHeaderSize {
			return nil, fmt.Errorf("discovery: short new-protocol reply from %s (%d bytes)", ip, len(payload))
		}
		return parseNewReply(ip, payload[newProbeHeaderSize:], key)
	default:
		return nil, fmt.Errorf("discovery: unexpected source port %d from %s", fromPort, ip)
	}
}

func sendLoop(conn *net.UDPConn, ctx context.Context, target string, legacyProbe, newProbe []byte, packets int, interval time.Duration, log *logrus.Entry) {
	ip := net.ParseIP(target)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip4", target)
		if err != nil {
			log.WithError(err).Debug("discovery: resolve target failed")
			return
		}
		ip = resolved.IP
	}

	for i := 0; i < packets; i++ {
		if _, err := conn.WriteToUDP(legacyProbe, &net.UDPAddr{IP: ip, Port: LegacyProbePort}); err != nil {
			log.WithError(err).Debug("discovery: legacy probe send failed")
		}
		if _, err := conn.WriteToUDP(newProbe, &net.UDPAddr{IP: ip, Port: NewProbePort}); err != nil {
			log.WithError(err).Debug("discovery: new probe send failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
