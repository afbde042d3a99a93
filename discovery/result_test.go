package discovery

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudkucooland/gokasa/codec"
	"github.com/cloudkucooland/gokasa/deviceconfig"
)

func TestParseLegacyReplyExtractsFamilyFromMICType(t *testing.T) {
	body := []byte(`{"system":{"get_sysinfo":{"model":"HS110(US)","deviceId":"abc123","mic_type":"IOT.SMARTPLUGSWITCH","mac":"AA:BB:CC:DD:EE:FF"}}}`)
	r, err := parseLegacyReply("10.0.0.5", body)
	require.NoError(t, err)
	require.True(t, r.Legacy)
	require.Equal(t, "IOT.SMARTPLUGSWITCH", r.DeviceType)
	require.Equal(t, "HS110(US)", r.DeviceModel)
	require.Equal(t, "abc123", r.DeviceID)
	require.Equal(t, "AA:BB:CC:DD:EE:FF", r.MAC)

	ct := r.ConnectionType()
	require.Equal(t, deviceconfig.FamilyIOTSmartPlugSwitch, ct.DeviceFamily)
	require.Equal(t, deviceconfig.EncryptionXOR, ct.Encryption)
}

func TestParseLegacyReplyMissingSysinfoIsError(t *testing.T) {
	_, err := parseLegacyReply("10.0.0.5", []byte(`{"system":{}}`))
	require.Error(t, err)
}

func TestParseNewReplyUnwrapsResultAndDecodesMAC(t *testing.T) {
	body := []byte(`{"error_code":0,"result":{
		"device_type":"SMART.TAPOPLUG",
		"device_model":"P110",
		"device_id":"dev-1",
		"mac":"aabbccddeeff",
		"mgt_encrypt_schm":{"is_support_https":true,"encrypt_type":"KLAP","http_port":4433,"lv":2}
	}}`)
	r, err := parseNewReply("10.0.0.6", body, nil)
	require.NoError(t, err)
	require.False(t, r.Legacy)
	require.Equal(t, "SMART.TAPOPLUG", r.DeviceType)
	require.Equal(t, "aa:bb:cc:dd:ee:ff", r.MAC)
	require.True(t, r.MgtEncryptSchm.IsSupportHTTPS)
	require.Equal(t, 4433, r.MgtEncryptSchm.HTTPPort)

	ct := r.ConnectionType()
	require.Equal(t, deviceconfig.FamilySmartTapoPlug, ct.DeviceFamily)
	require.Equal(t, deviceconfig.EncryptionKLAP, ct.Encryption)
	require.True(t, ct.HTTPS)
	require.Equal(t, 4433, ct.HTTPPort)
	require.Equal(t, deviceconfig.LoginVersion2, ct.LoginVersion)
}

func TestParseNewReplyWithoutResultWrapperFallsBackToTopLevel(t *testing.T) {
	body := []byte(`{"device_type":"SMART.KASAPLUG","device_model":"KP125","device_id":"dev-2","mgt_encrypt_schm":{"encrypt_type":"AES"}}`)
	r, err := parseNewReply("10.0.0.7", body, nil)
	require.NoError(t, err)
	require.Equal(t, "SMART.KASAPLUG", r.DeviceType)
	require.Equal(t, deviceconfig.EncryptionAES, r.ConnectionType().Encryption)
}

func TestParseNewReplyMissingDeviceTypeIsError(t *testing.T) {
	_, err := parseNewReply("10.0.0.8", []byte(`{"result":{"device_model":"x"}}`), nil)
	require.Error(t, err)
}

func TestParseNewReplyDecryptsEncryptInfo(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	symKey := make([]byte, 32)
	_, err = rand.Read(symKey)
	require.NoError(t, err)

	inner, err := json.Marshal(map[string]interface{}{
		"device_type":  "SMART.TAPOPLUG",
		"device_model": "P115",
		"device_id":    "dev-3",
	})
	require.NoError(t, err)

	cipher, err := codec.AESCBCEncryptRaw(symKey[:16], symKey[16:32], inner)
	require.NoError(t, err)

	encKey, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, &key.PublicKey, symKey, nil)
	require.NoError(t, err)

	outer, err := json.Marshal(map[string]interface{}{
		"device_type": "SMART.TAPOPLUG",
		"encrypt_info": map[string]interface{}{
			"sym_schm": "AES",
			"key":      base64.StdEncoding.EncodeToString(encKey),
			"data":     base64.StdEncoding.EncodeToString(cipher),
		},
	})
	require.NoError(t, err)

	r, err := parseNewReply("10.0.0.10", outer, key)
	require.NoError(t, err)
	require.Equal(t, "dev-3", r.DecryptedData["device_id"])
	require.Equal(t, "P115", r.DecryptedData["device_model"])
}

func TestMatchFamilyPrefersLongestMatch(t *testing.T) {
	require.Equal(t, deviceconfig.FamilySmartTapoDoorbell, matchFamily("SMART.TAPODOORBELL(EU)"))
	require.Equal(t, deviceconfig.FamilyUnknown, matchFamily("UNKNOWN.FAMILY"))
}

func TestDeviceConfigCarriesHTTPPortOverride(t *testing.T) {
	r := &Result{
		IP:         "10.0.0.9",
		DeviceType: "SMART.TAPOPLUG",
		MgtEncryptSchm: MGTEncryptScheme{
			EncryptType: "AES",
			HTTPPort:    8443,
			IsSupportHTTPS: true,
		},
	}
	cfg := r.DeviceConfig()
	require.NotNil(t, cfg.PortOverride)
	require.Equal(t, 8443, *cfg.PortOverride)
	require.Equal(t, deviceconfig.EncryptionAES, cfg.ConnectionType.Encryption)
}
