// Package credentials implements the (username, password) identity
// used to authenticate to AES-passthrough and KLAP devices, plus a
// sentinel blank identity used to match the three known default
// credential sets (consumer-Kasa, consumer-Tapo, plus camera
// variants), stored here as base64-embedded constants.
package credentials

import "encoding/base64"

// Credentials is a structural value: two Credentials are Equal if and
// only if both fields match exactly.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Blank is the sentinel empty identity used to probe whether a device
// accepts no credentials at all (some legacy firmware and local-only
// KLAP devices do).
var Blank = Credentials{}

// Equal reports structural equality.
func (c Credentials) Equal(o Credentials) bool {
	return c.Username == o.Username && c.Password == o.Password
}

// IsBlank reports whether c is the sentinel blank identity.
func (c Credentials) IsBlank() bool {
	return c.Equal(Blank)
}

func mustDecode(b64 string) string {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		panic("credentials: invalid embedded base64 constant: " + err.Error())
	}
	return string(raw)
}

// The following default credential sets are embedded base64 so a
// casual `grep` of the source doesn't surface plaintext vendor
// defaults.
var (
	kasaDefaultUser = mustDecode("a2FzYS1hcHBAdHBsaW5rLmNvbQ==") // kasa-app@tplink.com
	kasaDefaultPass = mustDecode("a2FzYVNldHVw")                  // kasaSetup

	tapoDefaultUser = mustDecode("dGFwby10YXBsaW5rQHRwbGluay5uZXQ=") // tapo-taplink@tplink.net
	tapoDefaultPass = mustDecode("VFBMaW5rVGFwb1Rlc3Q=")             // TPLinkTapoTest

	cameraDefaultUser = mustDecode("YWRtaW4=")       // admin
	cameraDefaultPass = mustDecode("dGVsZXBvcnRhY2E=") // teleportaca
)

// KasaDefault is the well-known consumer-Kasa default identity.
var KasaDefault = Credentials{Username: kasaDefaultUser, Password: kasaDefaultPass}

// TapoDefault is the well-known consumer-Tapo default identity used
// by the AES-passthrough fallback login.
var TapoDefault = Credentials{Username: tapoDefaultUser, Password: tapoDefaultPass}

// CameraDefault is the well-known default identity for camera variants.
var CameraDefault = Credentials{Username: cameraDefaultUser, Password: cameraDefaultPass}

// KnownDefaults lists every embedded default credential set, in the
// order KLAP handshake-1 tag matching should try them.
func KnownDefaults() []Credentials {
	return []Credentials{TapoDefault, KasaDefault, CameraDefault}
}
