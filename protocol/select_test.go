package protocol

import (
	"testing"

	"github.com/cloudkucooland/gokasa/credentials"
	"github.com/cloudkucooland/gokasa/deviceconfig"
	"github.com/cloudkucooland/gokasa/kerrors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSelectIOTXORPicksIoTOverXOR(t *testing.T) {
	cfg := &deviceconfig.DeviceConfig{
		Host: "10.0.0.5",
		ConnectionType: deviceconfig.ConnectionType{
			DeviceFamily: deviceconfig.FamilyIOTSmartPlugSwitch,
			Encryption:   deviceconfig.EncryptionXOR,
		},
	}
	p, tr, err := Select(cfg, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	require.NotNil(t, tr)
	_, ok := p.(*IoT)
	require.True(t, ok)
}

func TestSelectIOTIPCameraXORIsUnsupported(t *testing.T) {
	cfg := &deviceconfig.DeviceConfig{
		Host: "10.0.0.5",
		ConnectionType: deviceconfig.ConnectionType{
			DeviceFamily: deviceconfig.FamilyIOTIPCamera,
			Encryption:   deviceconfig.EncryptionXOR,
		},
	}
	_, _, err := Select(cfg, logrus.NewEntry(logrus.New()))
	require.Error(t, err)
	require.Equal(t, kerrors.KindUnsupported, kerrors.KindOf(err))
}

func TestSelectSmartAESPicksSmart(t *testing.T) {
	cfg := &deviceconfig.DeviceConfig{
		Host:        "10.0.0.5",
		Credentials: credentials.Credentials{Username: "u", Password: "p"},
		ConnectionType: deviceconfig.ConnectionType{
			DeviceFamily: deviceconfig.FamilySmartTapoPlug,
			Encryption:   deviceconfig.EncryptionAES,
		},
	}
	p, tr, err := Select(cfg, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	require.NotNil(t, tr)
	_, ok := p.(*Smart)
	require.True(t, ok)
}

func TestSelectSmartAESHTTPSPicksSmartCam(t *testing.T) {
	cfg := &deviceconfig.DeviceConfig{
		Host:        "10.0.0.5",
		Credentials: credentials.Credentials{Username: "u", Password: "p"},
		ConnectionType: deviceconfig.ConnectionType{
			DeviceFamily: deviceconfig.FamilySmartTapoPlug,
			Encryption:   deviceconfig.EncryptionAES,
			HTTPS:        true,
		},
	}
	p, _, err := Select(cfg, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	_, ok := p.(*SmartCam)
	require.True(t, ok)
}

func TestSelectSmartDoorbellAESNonHTTPSStillPicksSmartCam(t *testing.T) {
	cfg := &deviceconfig.DeviceConfig{
		Host:        "10.0.0.5",
		Credentials: credentials.Credentials{Username: "u", Password: "p"},
		ConnectionType: deviceconfig.ConnectionType{
			DeviceFamily: deviceconfig.FamilySmartTapoDoorbell,
			Encryption:   deviceconfig.EncryptionAES,
			HTTPS:        false,
		},
	}
	p, _, err := Select(cfg, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	_, ok := p.(*SmartCam)
	require.True(t, ok)
}

func TestSelectRobovacAESPicksSmartNotSmartCam(t *testing.T) {
	cfg := &deviceconfig.DeviceConfig{
		Host:        "10.0.0.5",
		Credentials: credentials.Credentials{Username: "u", Password: "p"},
		ConnectionType: deviceconfig.ConnectionType{
			DeviceFamily: deviceconfig.FamilySmartTapoRobovac,
			Encryption:   deviceconfig.EncryptionAES,
			HTTPS:        false,
		},
	}
	p, _, err := Select(cfg, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	_, ok := p.(*Smart)
	require.True(t, ok)
}

func TestSelectSmartKLAPPicksSmart(t *testing.T) {
	cfg := &deviceconfig.DeviceConfig{
		Host:        "10.0.0.5",
		Credentials: credentials.Credentials{Username: "u", Password: "p"},
		ConnectionType: deviceconfig.ConnectionType{
			DeviceFamily: deviceconfig.FamilySmartKasaPlug,
			Encryption:   deviceconfig.EncryptionKLAP,
			HTTPS:        true,
		},
	}
	p, _, err := Select(cfg, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	_, ok := p.(*Smart)
	require.True(t, ok)
}

func TestSelectUnknownFamilyIsUnsupported(t *testing.T) {
	cfg := &deviceconfig.DeviceConfig{
		Host: "10.0.0.5",
		ConnectionType: deviceconfig.ConnectionType{
			DeviceFamily: deviceconfig.FamilyUnknown,
			Encryption:   deviceconfig.EncryptionAES,
		},
	}
	_, _, err := Select(cfg, logrus.NewEntry(logrus.New()))
	require.Error(t, err)
	require.Equal(t, kerrors.KindUnsupported, kerrors.KindOf(err))
}
