package cryptoutil

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/crypto"
)

// proofDigestInput fixes the field order so the JSON encoding is canonical.
type proofDigestInput struct {
	FindingID         string `json:"findingId"`
	VulnerabilityType string `json:"vulnerabilityType"`
	Severity          string `json:"severity"`
	Validated         bool   `json:"validated"`
}

// ProofHash computes the keccak-256 digest recorded on-chain alongside a
// validation result.
func ProofHash(findingID, vulnerabilityType, severity string, validated bool) ([32]byte, error) {
	var out [32]byte
	raw, err := json.Marshal(proofDigestInput{
		FindingID:         findingID,
		VulnerabilityType: vulnerabilityType,
		Severity:          severity,
		Validated:         validated,
	})
	if err != nil {
		return out, err
	}
	copy(out[:], crypto.Keccak256(raw))
	return out, nil
}
