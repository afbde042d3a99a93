package discovery

import (
	"context"
	"crypto/rsa"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cloudkucooland/gokasa/credentials"
	"github.com/cloudkucooland/gokasa/deviceconfig"
	"github.com/cloudkucooland/gokasa/kerrors"
	"github.com/cloudkucooland/gokasa/protocol"
)

// defaultKeypairCache backs every DiscoverSingleWithFallback call so a
// repeated probe against the same host within one process reuses the
// AES handshake keypair it generated last time.
var defaultKeypairCache = newKeypairCache()

// fallbackCombos is the brute-force order the single-host fallback
// tries when UDP discovery yields nothing: cheapest/most common first.
var fallbackCombos = []deviceconfig.ConnectionType{
	{DeviceFamily: deviceconfig.FamilyIOTSmartPlugSwitch, Encryption: deviceconfig.EncryptionXOR},
	{DeviceFamily: deviceconfig.FamilySmartTapoPlug, Encryption: deviceconfig.EncryptionAES},
	{DeviceFamily: deviceconfig.FamilySmartTapoPlug, Encryption: deviceconfig.EncryptionKLAP},
	{DeviceFamily: deviceconfig.FamilySmartTapoPlug, Encryption: deviceconfig.EncryptionAES, HTTPS: true},
	{DeviceFamily: deviceconfig.FamilySmartKasaPlug, Encryption: deviceconfig.EncryptionKLAP, HTTPS: true},
}

// DiscoverSingleWithFallback resolves host via UDP discovery first; if
// that yields nothing (or the resolved protocol fails its first
// query), it falls back to a brute-force probe: try each combination
// in fallbackCombos, instantiating the matching Protocol directly and
// issuing one query, returning the first that succeeds.
func DiscoverSingleWithFallback(ctx context.Context, host string, creds credentials.Credentials, opts Options) (*deviceconfig.DeviceConfig, map[string]interface{}, error) {
	log := opts.effectiveLog()

	if r, err := DiscoverSingle(ctx, host, opts); err == nil {
		cfg := r.DeviceConfig()
		cfg.Credentials = creds
		applyCachedKeypair(cfg)
		payload, qerr := probeUpdate(ctx, cfg, log)
		if qerr == nil {
			saveKeypair(cfg)
			return cfg, payload, nil
		}
		log.WithError(qerr).Debug("discovery: udp-resolved device failed initial query, trying brute-force fallback")
	}

	for _, combo := range fallbackCombos {
		cfg := &deviceconfig.DeviceConfig{
			Host:           host,
			Credentials:    creds,
			ConnectionType: combo,
		}
		applyCachedKeypair(cfg)
		payload, err := probeUpdate(ctx, cfg, log)
		if err == nil {
			saveKeypair(cfg)
			return cfg, payload, nil
		}
		log.WithError(err).WithField("combo", fmt.Sprintf("%+v", combo)).Debug("discovery: fallback combination failed")
	}

	return nil, nil, kerrors.Unsupported(fmt.Errorf("discovery: no working protocol combination for %s", host))
}

func applyCachedKeypair(cfg *deviceconfig.DeviceConfig) {
	if cfg.ConnectionType.Encryption != deviceconfig.EncryptionAES {
		return
	}
	if key, ok := defaultKeypairCache.get(cfg.Host); ok {
		cfg.AESKeys = deviceconfig.NewCachedKeypair(key)
	}
}

func saveKeypair(cfg *deviceconfig.DeviceConfig) {
	if cfg.ConnectionType.Encryption != deviceconfig.EncryptionAES || cfg.AESKeys == nil {
		return
	}
	defaultKeypairCache.put(cfg.Host, cfg.AESKeys.Key())
}

// probeUpdate instantiates the Protocol cfg resolves to and issues one
// update query against it: the legacy IoT protocol gets its native
// {module:{command:params}} shape, Smart/SmartCam get get_device_info.
func probeUpdate(ctx context.Context, cfg *deviceconfig.DeviceConfig, log *logrus.Entry) (map[string]interface{}, error) {
	p, tr, err := protocol.Select(cfg, log)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	var res map[string]interface{}
	if _, ok := p.(*protocol.IoT); ok {
		res, err = p.Query(ctx, map[string]interface{}{"system": map[string]interface{}{"get_sysinfo": map[string]interface{}{}}})
	} else {
		res, err = p.Query(ctx, map[string]interface{}{"get_device_info": nil})
	}
	if err != nil {
		return nil, err
	}

	if aes, ok := tr.(keypairSource); ok {
		if key := aes.Keypair(); key != nil {
			cfg.AESKeys = deviceconfig.NewCachedKeypair(key)
		}
	}
	return res, nil
}

// keypairSource is implemented by *transport.AESTransport; declared
// locally to avoid discovery depending on transport's concrete type
// for anything but this one accessor.
type keypairSource interface {
	Keypair() *rsa.PrivateKey
}
