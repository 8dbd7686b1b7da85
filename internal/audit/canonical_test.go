package audit

import (
	"testing"
	"time"
)

func baseEvent() *Event {
	return &Event{
		ID:             "1-abc",
		Timestamp:      time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC),
		UserID:         "user-1",
		EventType:      EventTypeInstrumentRead,
		ResourceType:   "instrument",
		ResourceID:     "dev-1",
		Success:        true,
		PreviousHash:   GenesisHash,
		SequenceNumber: 0,
		Metadata:       map[string]any{"b": 2, "a": 1},
	}
}

func TestComputeHash_Deterministic(t *testing.T) {
	h1, err := computeHash(baseEvent())
	if err != nil {
		t.Fatalf("computeHash() error = %v", err)
	}
	h2, err := computeHash(baseEvent())
	if err != nil {
		t.Fatalf("computeHash() error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash not deterministic: %q vs %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
}

func TestComputeHash_CoversChainedFields(t *testing.T) {
	ref, err := computeHash(baseEvent())
	if err != nil {
		t.Fatalf("computeHash() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"user id", func(e *Event) { e.UserID = "other" }},
		{"event type", func(e *Event) { e.EventType = EventTypeLogin }},
		{"resource id", func(e *Event) { e.ResourceID = "dev-2" }},
		{"success flag", func(e *Event) { e.Success = false }},
		{"error message", func(e *Event) { e.ErrorMessage = "boom" }},
		{"timestamp", func(e *Event) { e.Timestamp = e.Timestamp.Add(time.Nanosecond) }},
		{"previous hash", func(e *Event) { e.PreviousHash = "ff" }},
		{"sequence number", func(e *Event) { e.SequenceNumber = 7 }},
		{"metadata", func(e *Event) { e.Metadata["a"] = 99 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := baseEvent()
			tt.mutate(e)
			got, err := computeHash(e)
			if err != nil {
				t.Fatalf("computeHash() error = %v", err)
			}
			if got == ref {
				t.Errorf("hash unchanged after mutating %s", tt.name)
			}
		})
	}
}

func TestComputeHash_ExcludesDerivedFields(t *testing.T) {
	ref, err := computeHash(baseEvent())
	if err != nil {
		t.Fatalf("computeHash() error = %v", err)
	}

	e := baseEvent()
	e.Hash = "aa"
	e.Signature = "bb"
	e.MerkleRoot = "cc"
	e.RequestID = "req-1"
	e.IPAddress = "203.0.113.9"
	e.UserAgent = "curl/8"

	got, err := computeHash(e)
	if err != nil {
		t.Fatalf("computeHash() error = %v", err)
	}
	if got != ref {
		t.Error("hash changed when only derived or transport fields differ")
	}
}

func TestComputeHash_TimezoneNormalized(t *testing.T) {
	e1 := baseEvent()
	e2 := baseEvent()
	e2.Timestamp = e2.Timestamp.In(time.FixedZone("CET", 3600))

	h1, err := computeHash(e1)
	if err != nil {
		t.Fatalf("computeHash() error = %v", err)
	}
	h2, err := computeHash(e2)
	if err != nil {
		t.Fatalf("computeHash() error = %v", err)
	}
	if h1 != h2 {
		t.Error("hash differs for the same instant in different zones")
	}
}

func TestSignatureMatches(t *testing.T) {
	key := []byte("key")
	sig := sign(key, "payload")

	if !signatureMatches(key, "payload", sig) {
		t.Error("signatureMatches() = false for valid signature")
	}
	if signatureMatches(key, "other", sig) {
		t.Error("signatureMatches() = true for different payload")
	}
	if signatureMatches([]byte("other-key"), "payload", sig) {
		t.Error("signatureMatches() = true under different key")
	}
}
