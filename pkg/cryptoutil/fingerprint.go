package cryptoutil

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// RegistrationInput carries the fields that identify a protocol registration
// payload for fee-dedup purposes.
type RegistrationInput struct {
	OwnerAddress string
	SourceURL    string
	Branch       string
	ContractPath string
	ContractName string
}

// Fingerprint returns a deterministic SHA-256 hex digest of the registration
// input. Fields are lowercased and trimmed before hashing so the same payload
// always maps to the same fingerprint regardless of case or padding.
// Returns "" when any field is missing; a partial payload has no fingerprint.
func Fingerprint(in RegistrationInput) string {
	parts := []string{
		in.OwnerAddress,
		in.SourceURL,
		in.Branch,
		in.ContractPath,
		in.ContractName,
	}
	for i, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			return ""
		}
		parts[i] = p
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
