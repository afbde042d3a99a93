// Package deviceconfig implements DeviceConfig, the value a caller
// builds (or a successful discovery produces) to address and
// authenticate to one device.
package deviceconfig

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudkucooland/gokasa/codec"
	"github.com/cloudkucooland/gokasa/credentials"
)

// DefaultBatchSize is used by the Smart protocol when BatchSize is nil.
const DefaultBatchSize = 5

// DefaultTimeout is the default timeout for direct (TCP) pulls.
const DefaultTimeout = 10 * time.Second

// DeviceConfig addresses and authenticates to exactly one device.
//
// Invariant: exactly one of Credentials or CredentialsHash must
// suffice to authenticate; both may be present (Validate checks this
// loosely — it only rejects the case where neither is usable).
type DeviceConfig struct {
	Host             string
	PortOverride     *int
	Timeout          time.Duration
	Credentials      credentials.Credentials
	CredentialsHash  string // opaque, protocol-specific base64 blob
	BatchSize        *int
	ConnectionType   ConnectionType
	AESKeys          *CachedKeypair
}

// CachedKeypair is the optional cached RSA keypair DeviceConfig may
// carry to skip the expensive RSA generation on reconnect.
type CachedKeypair struct {
	key *rsa.PrivateKey
}

// NewCachedKeypair wraps an already-generated key.
func NewCachedKeypair(key *rsa.PrivateKey) *CachedKeypair {
	return &CachedKeypair{key: key}
}

// Key returns the wrapped private key.
func (c *CachedKeypair) Key() *rsa.PrivateKey { return c.key }

// EffectiveTimeout returns Timeout, or DefaultTimeout if unset.
func (d *DeviceConfig) EffectiveTimeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

// EffectiveBatchSize returns *BatchSize, or DefaultBatchSize if nil.
func (d *DeviceConfig) EffectiveBatchSize() int {
	if d.BatchSize == nil {
		return DefaultBatchSize
	}
	return *d.BatchSize
}

// EffectivePort returns PortOverride if set, else a per-encryption
// default: 9999 for XOR, 80/443 for AES/KLAP depending on HTTPS.
func (d *DeviceConfig) EffectivePort() int {
	if d.PortOverride != nil {
		return *d.PortOverride
	}
	switch d.ConnectionType.Encryption {
	case EncryptionXOR:
		return 9999
	default:
		if d.ConnectionType.HTTPS {
			return 443
		}
		return 80
	}
}

// HasCredentials reports whether either authentication mechanism is
// usable.
func (d *DeviceConfig) HasCredentials() bool {
	return !d.Credentials.IsBlank() || d.CredentialsHash != ""
}

// Validate enforces that a DeviceConfig carries enough information to
// actually connect to a device.
func (d *DeviceConfig) Validate() error {
	if d.Host == "" {
		return fmt.Errorf("deviceconfig: host is required")
	}
	if d.ConnectionType.Encryption != EncryptionXOR && !d.HasCredentials() {
		return fmt.Errorf("deviceconfig: need credentials or credentials_hash for encryption %q", d.ConnectionType.Encryption)
	}
	return nil
}

// deviceConfigWire is the JSON-wire shape: CredentialsHash and AESKeys
// are opaque base64 strings, following insomniacslk-tapo's pattern of
// a custom (Un)MarshalJSON for a domain type whose wire and in-memory
// shapes differ (there: tapoMAC; here: the whole config).
type deviceConfigWire struct {
	Host            string                  `json:"host"`
	PortOverride    *int                    `json:"port_override,omitempty"`
	TimeoutSeconds  float64                 `json:"timeout_seconds,omitempty"`
	Credentials     credentials.Credentials `json:"credentials,omitempty"`
	CredentialsHash string                  `json:"credentials_hash,omitempty"`
	BatchSize       *int                    `json:"batch_size,omitempty"`
	ConnectionType  ConnectionType          `json:"connection_type"`
	AESKeysDER      string                  `json:"aes_keys,omitempty"`
}

// MarshalJSON renders DeviceConfig to its wire shape.
func (d DeviceConfig) MarshalJSON() ([]byte, error) {
	w := deviceConfigWire{
		Host:            d.Host,
		PortOverride:    d.PortOverride,
		TimeoutSeconds:  d.Timeout.Seconds(),
		Credentials:     d.Credentials,
		CredentialsHash: d.CredentialsHash,
		BatchSize:       d.BatchSize,
		ConnectionType:  d.ConnectionType,
	}
	if d.AESKeys != nil {
		w.AESKeysDER = codec.MarshalPrivateKeyDER(d.AESKeys.key)
	}
	return json.Marshal(w)
}

// UnmarshalJSON restores DeviceConfig from its wire shape, regenerating
// the cached keypair from its DER encoding if present.
func (d *DeviceConfig) UnmarshalJSON(data []byte) error {
	var w deviceConfigWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	d.Host = w.Host
	d.PortOverride = w.PortOverride
	d.Timeout = time.Duration(w.TimeoutSeconds * float64(time.Second))
	d.Credentials = w.Credentials
	d.CredentialsHash = w.CredentialsHash
	d.BatchSize = w.BatchSize
	d.ConnectionType = w.ConnectionType
	if w.AESKeysDER != "" {
		key, err := codec.UnmarshalPrivateKeyDER(w.AESKeysDER)
		if err != nil {
			return fmt.Errorf("deviceconfig: restore cached keypair: %w", err)
		}
		d.AESKeys = NewCachedKeypair(key)
	}
	return nil
}
