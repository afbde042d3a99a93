package protocol

import (
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/cloudkucooland/gokasa/deviceconfig"
	"github.com/cloudkucooland/gokasa/kerrors"
	"github.com/cloudkucooland/gokasa/transport"
	"github.com/sirupsen/logrus"
)

// Select maps cfg's (family, encryption, https) tuple to a concrete
// (Protocol, Transport) pair. Family-specific rows (robovac,
// camera/doorbell) take precedence over their family-prefix generic
// counterparts; an unmatched combination is KindUnsupported.
func Select(cfg *deviceconfig.DeviceConfig, log *logrus.Entry) (Protocol, transport.Transport, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ct := cfg.ConnectionType
	family := ct.DeviceFamily
	timeout := cfg.EffectiveTimeout()

	switch {
	case family == deviceconfig.FamilyIOTIPCamera && ct.Encryption == deviceconfig.EncryptionXOR:
		// LinkieV2, the camera variant of the legacy XOR protocol, is
		// explicitly out of scope.
		return nil, nil, kerrors.Unsupported(fmt.Errorf("protocol: %s over XOR (LinkieV2) is out of scope", family))

	case isIOTFamily(family) && ct.Encryption == deviceconfig.EncryptionXOR && !ct.HTTPS:
		tr, err := transport.NewXORTransport(cfg.Host, cfg.EffectivePort(), timeout, log)
		if err != nil {
			return nil, nil, err
		}
		return NewIoT(tr, log), tr, nil

	case isIOTFamily(family) && ct.Encryption == deviceconfig.EncryptionKLAP:
		tr, err := transport.NewKLAPTransport(cfg.Host, ct.HTTPS, false, cfg.Credentials, timeout, log)
		if err != nil {
			return nil, nil, err
		}
		return NewIoT(tr, log), tr, nil

	case family == deviceconfig.FamilySmartTapoRobovac && ct.Encryption == deviceconfig.EncryptionAES:
		tr, err := newAESTransportFor(cfg, true, log)
		if err != nil {
			return nil, nil, err
		}
		p, err := NewSmart(tr, log)
		if err != nil {
			return nil, nil, err
		}
		return p, tr, nil

	case (family == deviceconfig.FamilySmartIPCamera || family == deviceconfig.FamilySmartTapoDoorbell) && ct.Encryption == deviceconfig.EncryptionAES:
		tr, err := newAESTransportFor(cfg, true, log)
		if err != nil {
			return nil, nil, err
		}
		p, err := NewSmartCam(tr, log)
		if err != nil {
			return nil, nil, err
		}
		return p, tr, nil

	case isSmartFamily(family) && ct.Encryption == deviceconfig.EncryptionAES && ct.HTTPS:
		tr, err := newAESTransportFor(cfg, true, log)
		if err != nil {
			return nil, nil, err
		}
		p, err := NewSmartCam(tr, log)
		if err != nil {
			return nil, nil, err
		}
		return p, tr, nil

	case isSmartFamily(family) && ct.Encryption == deviceconfig.EncryptionAES && !ct.HTTPS:
		tr, err := newAESTransportFor(cfg, false, log)
		if err != nil {
			return nil, nil, err
		}
		p, err := NewSmart(tr, log)
		if err != nil {
			return nil, nil, err
		}
		return p, tr, nil

	case isSmartFamily(family) && ct.Encryption == deviceconfig.EncryptionKLAP:
		tr, err := transport.NewKLAPTransport(cfg.Host, ct.HTTPS, true, cfg.Credentials, timeout, log)
		if err != nil {
			return nil, nil, err
		}
		p, err := NewSmart(tr, log)
		if err != nil {
			return nil, nil, err
		}
		return p, tr, nil

	default:
		return nil, nil, kerrors.Unsupported(fmt.Errorf("protocol: unsupported combination family=%s encryption=%s https=%v", family, ct.Encryption, ct.HTTPS))
	}
}

func isIOTFamily(f deviceconfig.Family) bool   { return strings.HasPrefix(string(f), "IOT.") }
func isSmartFamily(f deviceconfig.Family) bool { return strings.HasPrefix(string(f), "SMART.") }

func newAESTransportFor(cfg *deviceconfig.DeviceConfig, https bool, log *logrus.Entry) (*transport.AESTransport, error) {
	return transport.NewAESTransport(cfg.Host, https, cfg.Credentials, loginVersionInt(cfg.ConnectionType.LoginVersion), cachedKeypair(cfg), cfg.EffectiveTimeout(), log)
}

func loginVersionInt(v deviceconfig.LoginVersion) int {
	if v == deviceconfig.LoginVersionUnset {
		return int(deviceconfig.LoginVersion2)
	}
	return int(v)
}

func cachedKeypair(cfg *deviceconfig.DeviceConfig) *rsa.PrivateKey {
	if cfg.AESKeys != nil {
		return cfg.AESKeys.Key()
	}
	return nil
}
