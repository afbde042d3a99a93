package gokasa

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cloudkucooland/gokasa/credentials"
	"github.com/cloudkucooland/gokasa/deviceconfig"
	"github.com/cloudkucooland/gokasa/discovery"
	"github.com/cloudkucooland/gokasa/protocol"
	"github.com/cloudkucooland/gokasa/transport"
)

// Discover sweeps the local network for devices, bucketing replies by
// IP into successes and per-IP failures.
func Discover(ctx context.Context, opts discovery.Options) (map[string]*discovery.Result, map[string]error) {
	return discovery.Discover(ctx, opts)
}

// DiscoverSingle probes a single host and parses whichever of the two
// discovery replies it sends back.
func DiscoverSingle(ctx context.Context, ip string, opts discovery.Options) (*discovery.Result, error) {
	return discovery.DiscoverSingle(ctx, ip, opts)
}

// DiscoverSingleWithFallback resolves host via UDP discovery, falling
// back to a brute-force protocol probe if that yields nothing.
func DiscoverSingleWithFallback(ctx context.Context, host string, creds credentials.Credentials, opts discovery.Options) (*deviceconfig.DeviceConfig, map[string]interface{}, error) {
	return discovery.DiscoverSingleWithFallback(ctx, host, creds, opts)
}

// NewProtocol builds the (Protocol, Transport) pair cfg's connection
// tuple resolves to. The caller must Close the returned Protocol.
func NewProtocol(cfg *deviceconfig.DeviceConfig, log *logrus.Entry) (protocol.Protocol, transport.Transport, error) {
	return protocol.Select(cfg, log)
}
