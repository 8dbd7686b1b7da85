package audit

import (
	"context"
	"testing"
	"time"
)

func TestVerifyChain_EmptyLogIsValid(t *testing.T) {
	logger, _ := newTestLogger(t)

	result, err := logger.VerifyChain(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if !result.Valid {
		t.Errorf("empty log Valid = false, want true")
	}
	if result.EventsChecked != 0 {
		t.Errorf("EventsChecked = %d, want 0", result.EventsChecked)
	}
	if result.BrokenChainAt != -1 {
		t.Errorf("BrokenChainAt = %d, want -1", result.BrokenChainAt)
	}
}

func TestVerifyChain_DetectsContentTampering(t *testing.T) {
	logger, repo := newTestLogger(t)
	events := appendEvents(t, logger, 5)

	repo.tamper(2, func(e *Event) {
		e.UserID = "attacker"
	})

	result, err := logger.VerifyChain(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if result.Valid {
		t.Fatal("Valid = true after tampering, want false")
	}
	if len(result.TamperedEvents) != 1 {
		t.Fatalf("TamperedEvents = %v, want exactly one entry", result.TamperedEvents)
	}
	if result.TamperedEvents[0] != events[2].ID {
		t.Errorf("tampered event ID = %q, want %q", result.TamperedEvents[0], events[2].ID)
	}
	// Tampering is not a chain break: linkage follows stored hashes.
	if result.BrokenChainAt != -1 {
		t.Errorf("BrokenChainAt = %d, want -1", result.BrokenChainAt)
	}
	if result.EventsChecked != 5 {
		t.Errorf("EventsChecked = %d, want 5", result.EventsChecked)
	}
}

func TestVerifyChain_ReportsAllTamperedEvents(t *testing.T) {
	logger, repo := newTestLogger(t)
	appendEvents(t, logger, 6)

	repo.tamper(1, func(e *Event) { e.Success = false })
	repo.tamper(4, func(e *Event) { e.ErrorMessage = "injected" })

	result, err := logger.VerifyChain(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if len(result.TamperedEvents) != 2 {
		t.Errorf("TamperedEvents count = %d, want 2 (%v)", len(result.TamperedEvents), result.TamperedEvents)
	}
}

func TestVerifyChain_DetectsDeletion(t *testing.T) {
	logger, repo := newTestLogger(t)
	appendEvents(t, logger, 5)

	repo.remove(2)

	result, err := logger.VerifyChain(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if result.Valid {
		t.Fatal("Valid = true after deletion, want false")
	}
	if result.BrokenChainAt != 2 {
		t.Errorf("BrokenChainAt = %d, want 2", result.BrokenChainAt)
	}
}

func TestVerifyChain_DetectsDeletedFirstEvent(t *testing.T) {
	logger, repo := newTestLogger(t)
	appendEvents(t, logger, 3)

	repo.remove(0)

	result, err := logger.VerifyChain(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if result.Valid {
		t.Fatal("Valid = true after deleting genesis event, want false")
	}
	if result.BrokenChainAt != 0 {
		t.Errorf("BrokenChainAt = %d, want 0", result.BrokenChainAt)
	}
}

func TestVerifyChain_DetectsForgedSignature(t *testing.T) {
	logger, repo := newTestLogger(t)
	events := appendEvents(t, logger, 3)

	// Re-sign under a different key, keeping the hash intact.
	repo.tamper(1, func(e *Event) {
		e.Signature = sign([]byte("wrong-key"), e.Hash)
	})

	result, err := logger.VerifyChain(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if result.Valid {
		t.Fatal("Valid = true with forged signature, want false")
	}
	if len(result.TamperedEvents) != 1 || result.TamperedEvents[0] != events[1].ID {
		t.Errorf("TamperedEvents = %v, want [%q]", result.TamperedEvents, events[1].ID)
	}
}

func TestVerifyChain_PartialRangeAnchorsToFirstEvent(t *testing.T) {
	logger, repo := newTestLogger(t)
	appendEvents(t, logger, 6)

	events, err := repo.QueryRange(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("QueryRange() error = %v", err)
	}

	// A window that starts mid-chain must not be reported as broken just
	// because its first event links outside the window.
	start := events[2].Timestamp
	result, err := logger.VerifyChain(context.Background(), start, time.Time{})
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if !result.Valid {
		t.Errorf("partial range Valid = false, want true: %v", result.Errors)
	}
	if result.AnchorSequence != 2 {
		t.Errorf("AnchorSequence = %d, want 2", result.AnchorSequence)
	}
	if result.EventsChecked != 4 {
		t.Errorf("EventsChecked = %d, want 4", result.EventsChecked)
	}
}

func TestVerifyChain_HashRewriteFlagsEventAndBreaksSuccessor(t *testing.T) {
	logger, repo := newTestLogger(t)
	appendEvents(t, logger, 4)

	repo.tamper(1, func(e *Event) {
		e.Hash = "deadbeef" + e.Hash[8:]
	})

	result, err := logger.VerifyChain(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if result.Valid {
		t.Fatal("Valid = true after hash rewrite, want false")
	}
	// The rewritten event fails its content hash check, and because the
	// walk follows stored hashes, the successor no longer links to it.
	if len(result.TamperedEvents) != 1 {
		t.Errorf("TamperedEvents = %v, want one entry", result.TamperedEvents)
	}
	if result.BrokenChainAt != 2 {
		t.Errorf("BrokenChainAt = %d, want 2", result.BrokenChainAt)
	}
}

func TestVerifyEvents_FullLogRequiresGenesisAnchor(t *testing.T) {
	logger, repo := newTestLogger(t)
	appendEvents(t, logger, 3)

	repo.tamper(0, func(e *Event) {
		e.PreviousHash = "1111111111111111111111111111111111111111111111111111111111111111"
	})

	result, err := logger.VerifyChain(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if result.Valid {
		t.Fatal("Valid = true with broken genesis anchor, want false")
	}
	if result.BrokenChainAt != 0 {
		t.Errorf("BrokenChainAt = %d, want 0", result.BrokenChainAt)
	}
}
