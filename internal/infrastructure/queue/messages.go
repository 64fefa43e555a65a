package queue

import (
	"fmt"

	"github.com/google/uuid"
)

// Job payloads shared between producers and workers. Job IDs double as
// idempotency keys: the SETNX guard in Enqueue drops duplicates.

type ProtocolJobPayload struct {
	ProtocolID uuid.UUID `json:"protocolId"`
}

type ScanJobPayload struct {
	ScanID     uuid.UUID `json:"scanId"`
	ProtocolID uuid.UUID `json:"protocolId"`
	Commit     string    `json:"commit"`
}

type ValidationJobPayload struct {
	ProofID uuid.UUID `json:"proofId"`
	ScanID  uuid.UUID `json:"scanId"`
}

type PaymentJobPayload struct {
	FindingID uuid.UUID `json:"findingId"`
}

func ProtocolJobID(protocolID uuid.UUID) string {
	return "protocol:" + protocolID.String()
}

// ScanJobID keys a scan by protocol and commit, so re-registering the same
// commit never double-scans.
func ScanJobID(protocolID uuid.UUID, commit string) string {
	return fmt.Sprintf("scan:%s:%s", protocolID, commit)
}

func ValidationJobID(proofID uuid.UUID) string {
	return "proof-" + proofID.String()
}

func PaymentJobID(findingID uuid.UUID) string {
	return "pay-" + findingID.String()
}
