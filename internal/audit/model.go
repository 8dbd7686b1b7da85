// Package audit provides a tamper-evident audit log for compliance and
// incident response: events are hash-chained, HMAC-signed, and verifiable
// after the fact via chain verification and Merkle proof export.
package audit

import (
	"time"
)

// GenesisHash is the previous-hash sentinel carried by the first event in
// the chain. It is shaped like a SHA-256 hex digest so verification treats
// it uniformly with real hashes.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event represents a single audit event in the chain.
type Event struct {
	ID           string
	Timestamp    time.Time
	UserID       string // empty when the actor is unauthenticated
	EventType    string
	ResourceType string
	ResourceID   string
	Success      bool
	ErrorMessage string

	// Optional request metadata
	RequestID string
	IPAddress string
	UserAgent string

	// Free-form metadata supplied by the caller
	Metadata map[string]any

	// Chain fields
	Hash           string
	PreviousHash   string
	Signature      string
	SequenceNumber int64
	MerkleRoot     string
}

// Actor describes the identity performing an audited action.
type Actor struct {
	UserID    string
	RequestID string
	IPAddress string
	UserAgent string
}

// Details carries the optional descriptors of an audited action.
type Details struct {
	ResourceType string
	ResourceID   string
	Success      bool
	ErrorMessage string
	Metadata     map[string]any
}

// Event type vocabulary. Events outside this set are rejected at logging
// time so the audit trail stays queryable by a fixed taxonomy.
const (
	EventTypeLogin             = "auth.login"
	EventTypeLogout            = "auth.logout"
	EventTypeAPIKeyCreated     = "api_key.created"
	EventTypeAPIKeyRevoked     = "api_key.revoked"
	EventTypeReportGenerated   = "report.generated"
	EventTypeReportExported    = "report.exported"
	EventTypeInstrumentRead    = "instrument.read"
	EventTypeDataExported      = "data.exported"
	EventTypeSettingsChanged   = "settings.changed"
	EventTypeRateLimitExceeded = "rate_limit.exceeded"
	EventTypeIntegrityCheck    = "audit.integrity_check"
)

// ValidEventTypes defines the allowed event types for audit logging.
var ValidEventTypes = map[string]bool{
	EventTypeLogin:             true,
	EventTypeLogout:            true,
	EventTypeAPIKeyCreated:     true,
	EventTypeAPIKeyRevoked:     true,
	EventTypeReportGenerated:   true,
	EventTypeReportExported:    true,
	EventTypeInstrumentRead:    true,
	EventTypeDataExported:      true,
	EventTypeSettingsChanged:   true,
	EventTypeRateLimitExceeded: true,
	EventTypeIntegrityCheck:    true,
}

// VerificationResult reports the outcome of a chain verification pass.
type VerificationResult struct {
	// Valid is true when no errors were found.
	Valid bool
	// Errors lists every problem found, in scan order.
	Errors []string
	// BrokenChainAt is the sequence number where the chain linkage broke,
	// or -1 when the linkage is intact. Once the chain breaks, nothing
	// after that point can be trusted and scanning stops.
	BrokenChainAt int64
	// TamperedEvents lists the IDs of events whose content no longer
	// matches their stored hash or signature. Scanning continues past
	// these so all tampering is surfaced.
	TamperedEvents []string
	// AnchorSequence is the sequence number the verification anchored to.
	// Zero for a full-log pass; the first event's own sequence number when
	// verifying a partial range, in which case the first event's linkage
	// to its true predecessor is not checked.
	AnchorSequence int64
	// EventsChecked is the number of events examined.
	EventsChecked int
}

// Proof is the integrity bundle attached to an export. Consumers can
// recompute the Merkle root from the returned events, and recompute the
// HMAC signature if they hold the signing key.
type Proof struct {
	MerkleRoot  string    `json:"merkle_root"`
	ChainValid  bool      `json:"chain_valid"`
	Signature   string    `json:"signature"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Export is the result of ExportWithProof.
type Export struct {
	Events []*Event `json:"events"`
	Proof  Proof    `json:"proof"`
}
