package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// canonicalPayload returns the deterministic JSON serialization an event is
// hashed over. Marshaling a map lets encoding/json sort keys
// lexicographically at every level, so the hash is independent of field
// ordering in the caller's metadata.
//
// The hash, signature, and merkle root are deliberately excluded: they are
// derived from this payload, not part of it.
func canonicalPayload(e *Event) ([]byte, error) {
	payload := map[string]any{
		"id":             e.ID,
		"timestamp":      e.Timestamp.UTC().Format(time.RFC3339Nano),
		"userId":         e.UserID,
		"eventType":      e.EventType,
		"resourceType":   e.ResourceType,
		"resourceId":     e.ResourceID,
		"success":        e.Success,
		"errorMessage":   e.ErrorMessage,
		"details":        e.Metadata,
		"previousHash":   e.PreviousHash,
		"sequenceNumber": e.SequenceNumber,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event payload: %w", err)
	}
	return data, nil
}

// computeHash returns the hex SHA-256 digest of the event's canonical payload.
func computeHash(e *Event) (string, error) {
	payload, err := canonicalPayload(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// sign returns the hex HMAC-SHA-256 of data under the given key.
func sign(key []byte, data string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// signatureMatches verifies an HMAC signature in constant time.
func signatureMatches(key []byte, data, signature string) bool {
	expected := sign(key, data)
	return hmac.Equal([]byte(expected), []byte(signature))
}
