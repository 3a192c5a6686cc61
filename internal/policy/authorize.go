package policy

import (
	"crypto/subtle"
	"strings"
)

// VerifyIngestSecret compares the presented ingestion secret against the
// configured one in constant time. An empty configured secret rejects every
// request: the protected turn endpoint must never be open by accident.
func VerifyIngestSecret(configured, presented string) bool {
	configured = strings.TrimSpace(configured)
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
