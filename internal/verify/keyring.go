package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// KeyEnvPrefix prefixes the environment variable holding each signing secret.
const KeyEnvPrefix = "SIGNING_HMAC_KEY_"

// Keyring maps derived key names (see KeyName) to HMAC secrets.
type Keyring map[string][]byte

// KeyName derives the lookup name for a key_id: trimmed, upper-cased,
// every run of characters outside [A-Z0-9] collapsed to a single underscore.
func KeyName(keyID string) string {
	upper := strings.ToUpper(strings.TrimSpace(keyID))

	var b strings.Builder
	inRun := false
	for i := 0; i < len(upper); i++ {
		c := upper[i]
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}
	return b.String()
}

// Lookup resolves the secret for keyID.
func (k Keyring) Lookup(keyID string) ([]byte, bool) {
	secret, ok := k[KeyName(keyID)]
	if !ok || len(secret) == 0 {
		return nil, false
	}
	return secret, true
}

// Sign returns base64(HMAC-SHA256(secret, data)).
func Sign(secret, data []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
