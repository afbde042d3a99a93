package discovery

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudkucooland/gokasa/codec"
	"github.com/cloudkucooland/gokasa/deviceconfig"
)

// MGTEncryptScheme is the new-protocol reply's encryption-advertisement
// block.
type MGTEncryptScheme struct {
	IsSupportHTTPS bool   `json:"is_support_https"`
	EncryptType    string `json:"encrypt_type"`
	HTTPPort       int    `json:"http_port"`
	LV             int    `json:"lv"`
}

// EncryptInfo carries an encrypted discovery payload's key material,
// present on some newer firmware that encrypts the discovery body
// itself, independent of the device's runtime transport encryption.
type EncryptInfo struct {
	SymSchm string `json:"sym_schm"`
	Key     string `json:"key"`
	Data    string `json:"data"`
}

// Result is the normalized set of facts extracted from one device's
// broadcast/unicast discovery reply, regardless of which probe (9999
// legacy or 20002 new) produced it.
type Result struct {
	IP          string
	Legacy      bool // true if this came from the 9999 XOR probe
	DeviceType  string
	DeviceModel string
	DeviceID    string
	MAC         string

	MgtEncryptSchm MGTEncryptScheme
	EncryptInfo    *EncryptInfo
	DecryptedData  map[string]interface{}
}

// legacySysinfo mirrors the fields the 9999 probe's get_sysinfo reply
// carries that discovery cares about; mic_type is, on these devices,
// literally the device_family string.
type legacySysinfo struct {
	System struct {
		GetSysinfo struct {
			Model    string `json:"model"`
			DeviceID string `json:"deviceId"`
			MICType  string `json:"mic_type"`
			MAC      string `json:"mac"`
		} `json:"get_sysinfo"`
	} `json:"system"`
}

func parseLegacyReply(ip string, plaintext []byte) (*Result, error) {
	var parsed legacySysinfo
	if err := json.Unmarshal(plaintext, &parsed); err != nil {
		return nil, fmt.Errorf("discovery: parse legacy reply from %s: %w", ip, err)
	}
	si := parsed.System.GetSysinfo
	if si.MICType == "" && si.Model == "" {
		return nil, fmt.Errorf("discovery: legacy reply from %s has no sysinfo", ip)
	}
	return &Result{
		IP:          ip,
		Legacy:      true,
		DeviceType:  si.MICType,
		DeviceModel: si.Model,
		DeviceID:    si.DeviceID,
		MAC:         si.MAC,
	}, nil
}

// newProbeEnvelope is the outer error_code/result wrapper a new-probe
// (20002) reply's JSON body uses: when the body contains a non-empty
// result field, that is unwrapped and used instead of the top level.
type newProbeEnvelope struct {
	ErrorCode int             `json:"error_code"`
	Result    json.RawMessage `json:"result"`
}

type newProbeBody struct {
	DeviceType     string           `json:"device_type"`
	DeviceModel    string           `json:"device_model"`
	DeviceID       string           `json:"device_id"`
	MAC            MAC              `json:"mac"`
	MgtEncryptSchm MGTEncryptScheme `json:"mgt_encrypt_schm"`
	EncryptInfo    *EncryptInfo     `json:"encrypt_info,omitempty"`
}

func parseNewReply(ip string, jsonBody []byte, key *rsa.PrivateKey) (*Result, error) {
	body := jsonBody
	var env newProbeEnvelope
	if err := json.Unmarshal(jsonBody, &env); err == nil && len(env.Result) > 0 {
		body = env.Result
	}

	var parsed newProbeBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("discovery: parse new-protocol reply from %s: %w", ip, err)
	}
	if parsed.DeviceType == "" {
		return nil, fmt.Errorf("discovery: new-protocol reply from %s has no device_type", ip)
	}

	var decrypted map[string]interface{}
	if parsed.EncryptInfo != nil && key != nil {
		plain, err := decryptEncryptInfo(key, parsed.EncryptInfo)
		if err != nil {
			return nil, fmt.Errorf("discovery: decrypt encrypted reply from %s: %w", ip, err)
		}
		if err := json.Unmarshal(plain, &decrypted); err != nil {
			return nil, fmt.Errorf("discovery: parse decrypted reply from %s: %w", ip, err)
		}
	} else {
		_ = json.Unmarshal(body, &decrypted)
	}

	mac := ""
	if len(parsed.MAC) == 6 {
		mac = parsed.MAC.String()
	}

	return &Result{
		IP:             ip,
		DeviceType:     parsed.DeviceType,
		DeviceModel:    parsed.DeviceModel,
		DeviceID:       parsed.DeviceID,
		MAC:            mac,
		MgtEncryptSchm: parsed.MgtEncryptSchm,
		EncryptInfo:    parsed.EncryptInfo,
		DecryptedData:  decrypted,
	}, nil
}

// decryptEncryptInfo turns an encrypted new-protocol reply's encrypt_info
// block into its plaintext JSON body: info.Key is OAEP-SHA1 decrypted
// with our discovery keypair into a 32-byte blob, the same
// key-then-IV split the AES-passthrough handshake uses, and that
// key/IV pair AES-CBC-decrypts info.Data.
func decryptEncryptInfo(key *rsa.PrivateKey, info *EncryptInfo) ([]byte, error) {
	if !strings.EqualFold(info.SymSchm, "AES") {
		return nil, fmt.Errorf("discovery: unsupported sym_schm %q", info.SymSchm)
	}

	encKey, err := base64.StdEncoding.DecodeString(info.Key)
	if err != nil {
		return nil, fmt.Errorf("discovery: decode encrypt_info.key: %w", err)
	}
	symKey, err := codec.DecryptOAEP(key, encKey)
	if err != nil {
		return nil, fmt.Errorf("discovery: oaep decrypt encrypt_info.key: %w", err)
	}
	if len(symKey) < 32 {
		return nil, fmt.Errorf("discovery: decrypted encrypt_info.key too short (%d bytes)", len(symKey))
	}

	data, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("discovery: decode encrypt_info.data: %w", err)
	}
	return codec.AESCBCDecryptRaw(symKey[:16], symKey[16:32], data)
}

// knownFamilies lists every device_family value matching is attempted
// against, longest-substring-wins so "SMART.TAPOPLUG" isn't
// accidentally shadowed by a broader prefix.
var knownFamilies = []deviceconfig.Family{
	deviceconfig.FamilySmartKasaPlug,
	deviceconfig.FamilySmartKasaBulb,
	deviceconfig.FamilySmartKasaSwitch,
	deviceconfig.FamilySmartTapoPlug,
	deviceconfig.FamilySmartTapoBulb,
	deviceconfig.FamilySmartTapoSwitch,
	deviceconfig.FamilySmartTapoHub,
	deviceconfig.FamilySmartIPCamera,
	deviceconfig.FamilySmartTapoDoorbell,
	deviceconfig.FamilySmartTapoRobovac,
	deviceconfig.FamilySmartTapoChime,
	deviceconfig.FamilyIOTSmartPlugSwitch,
	deviceconfig.FamilyIOTSmartBulb,
	deviceconfig.FamilyIOTIPCamera,
}

// matchFamily matches device_type against known family names by
// case-insensitive substring: the longest family name contained in
// device_type wins, since firmware sometimes appends a region/variant
// suffix to device_type.
func matchFamily(deviceType string) deviceconfig.Family {
	upper := strings.ToUpper(deviceType)
	best := deviceconfig.FamilyUnknown
	for _, f := range knownFamilies {
		if strings.Contains(upper, string(f)) && len(f) > len(best) {
			best = f
		}
	}
	return best
}

// matchEncryption maps mgt_encrypt_schm.encrypt_type to an Encryption,
// defaulting to XOR for anything other than KLAP or AES.
func matchEncryption(encryptType string) deviceconfig.Encryption {
	switch strings.ToUpper(encryptType) {
	case "KLAP":
		return deviceconfig.EncryptionKLAP
	case "AES":
		return deviceconfig.EncryptionAES
	default:
		return deviceconfig.EncryptionXOR
	}
}

// ConnectionType assembles the (family, encryption, https) tuple the
// protocol/transport selection table keys off of.
func (r *Result) ConnectionType() deviceconfig.ConnectionType {
	family := matchFamily(r.DeviceType)
	if r.Legacy {
		return deviceconfig.ConnectionType{DeviceFamily: family, Encryption: deviceconfig.EncryptionXOR}
	}
	return deviceconfig.ConnectionType{
		DeviceFamily: family,
		Encryption:   matchEncryption(r.MgtEncryptSchm.EncryptType),
		LoginVersion: deviceconfig.LoginVersion(r.MgtEncryptSchm.LV),
		HTTPS:        r.MgtEncryptSchm.IsSupportHTTPS,
		HTTPPort:     r.MgtEncryptSchm.HTTPPort,
	}
}

// DeviceConfig builds a ready-to-use DeviceConfig from this result.
// The caller still supplies credentials; discovery never carries a
// password.
func (r *Result) DeviceConfig() *deviceconfig.DeviceConfig {
	ct := r.ConnectionType()
	cfg := &deviceconfig.DeviceConfig{
		Host:           r.IP,
		ConnectionType: ct,
	}
	if ct.HTTPPort != 0 {
		port := ct.HTTPPort
		cfg.PortOverride = &port
	}
	return cfg
}
