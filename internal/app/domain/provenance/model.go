package provenance

import "time"

const (
	KindContent     = "content"
	KindFingerprint = "fingerprint"
)

// Record is a registered piece of content. The fingerprint is immutable; the
// trust score, metadata and ownership evolve.
type Record struct {
	ID                string            `json:"id"`
	Fingerprint       string            `json:"fingerprint"`
	Algorithm         string            `json:"algorithm"`
	BlobRef           string            `json:"blob_ref"`
	KeyRef            string            `json:"key_ref"`
	Creator           string            `json:"creator"`
	Owner             string            `json:"owner"`
	TrustScore        int               `json:"trust_score"`
	Transferable      bool              `json:"transferable"`
	VerificationCount int               `json:"verification_count"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	RegisteredAt      time.Time         `json:"registered_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// FingerprintIndex maps a canonical fingerprint to its content id.
type FingerprintIndex struct {
	Fingerprint string `json:"fingerprint"`
	ContentID   string `json:"content_id"`
}

// PendingTransfer describes an issued, not yet redeemed transfer right.
type PendingTransfer struct {
	Token     string    `json:"token"`
	ContentID string    `json:"content_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BlendTrust weighs a new score against the current one. weightNew is a
// percentage; both inputs in [0,100] keep the result in [0,100].
func BlendTrust(current, score, weightNew int) int {
	return (weightNew*score + (100-weightNew)*current) / 100
}
