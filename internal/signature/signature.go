// Package signature computes the HMAC auth token the upstream metadata API
// requires for non-search operations. The token proves the request was built
// by a party holding the shared secret, preventing arbitrary resource
// enumeration through the public endpoint.
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
)

// Signer holds the secret shared with the upstream metadata API.
type Signer struct {
	secret []byte
}

// New creates a Signer for the given shared secret.
func New(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the auth token for (server, type, id): an HMAC-SHA1 over the
// delimiter-less concatenation server+type+id, encoded as lowercase hex.
// Deterministic; no state or network access.
func (s *Signer) Sign(server, typ, id string) string {
	mac := hmac.New(sha1.New, s.secret)
	mac.Write([]byte(server))
	mac.Write([]byte(typ))
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}
