package discovery

import (
	"crypto/rsa"
	"crypto/sha256"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/cloudkucooland/gokasa/codec"
)

var (
	processKeypairOnce sync.Once
	processKeypair     *rsa.PrivateKey
	processKeypairErr  error
)

// processKey returns the process-wide 2048-bit RSA keypair whose public
// half is sent in 20002-port discovery probes and whose private half
// decrypts the replies' encrypt_info, generating it lazily on first use
// and reusing it for the lifetime of the process.
func processKey() (*rsa.PrivateKey, error) {
	processKeypairOnce.Do(func() {
		processKeypair, processKeypairErr = codec.GenerateKeypair(codec.DiscoveryKeyBits)
	})
	return processKeypair, processKeypairErr
}

// keypairCache lets one discovery session reuse a generated keypair
// across multiple DeviceConfigs addressed by host, independent of the
// single process-wide discovery probe key above.
type keypairCache struct {
	mu   sync.Mutex
	keys map[string]*rsa.PrivateKey
}

func newKeypairCache() *keypairCache {
	return &keypairCache{keys: make(map[string]*rsa.PrivateKey)}
}

// cacheKeyFor derives a deterministic lookup key for host. This is not
// a security boundary — the cached value is public key material
// generated locally, not a secret — just a cheap, collision-resistant
// way to key the in-memory map.
func cacheKeyFor(host string) string {
	derived := pbkdf2.Key([]byte(host), []byte("gokasa-discovery-keypair-cache"), 4096, 32, sha256.New)
	return string(derived)
}

func (c *keypairCache) get(host string) (*rsa.PrivateKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.keys[cacheKeyFor(host)]
	return k, ok
}

func (c *keypairCache) put(host string, key *rsa.PrivateKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[cacheKeyFor(host)] = key
}
