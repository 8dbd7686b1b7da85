package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logging errors.
var (
	// ErrNilRepository is returned when the logger is built without a repository.
	ErrNilRepository = errors.New("audit repository cannot be nil")
	// ErrEmptySigningKey is returned when the logger is built without a signing key.
	ErrEmptySigningKey = errors.New("audit signing key cannot be empty")
	// ErrInvalidEventType is returned when the event type is not in the vocabulary.
	ErrInvalidEventType = errors.New("event type is not in the allowed vocabulary")
)

// LoggerConfig configures a Logger.
type LoggerConfig struct {
	Repository Repository
	// SigningKey is the HMAC-SHA-256 key for event signatures.
	SigningKey []byte
	// Logger for operational messages. Defaults to slog.Default().
	Logger *slog.Logger
	// Metrics for chain operations. Optional.
	Metrics *Metrics
	// Feed receives successfully appended events. Optional.
	Feed *Feed
}

// Logger appends hash-chained, HMAC-signed events to the audit log.
//
// The in-process cursor (sequence number, previous hash) is initialized
// lazily from the store head on first use and guarded by a mutex, so
// concurrent LogEvent calls within one process are serialized. Across
// processes the chain relies on the store rejecting duplicate sequence
// numbers: the losing writer gets ErrSequenceConflict, the cursor is
// re-read from the head, and the caller may retry.
type Logger struct {
	repo       Repository
	signingKey []byte
	log        *slog.Logger
	metrics    *Metrics
	feed       *Feed

	mu          sync.Mutex
	initialized bool
	nextSeq     int64
	prevHash    string
}

// NewLogger creates an audit logger. Initialization of the chain cursor is
// deferred until the first append so construction cannot fail on an
// unavailable store.
func NewLogger(cfg LoggerConfig) (*Logger, error) {
	if cfg.Repository == nil {
		return nil, ErrNilRepository
	}
	if len(cfg.SigningKey) == 0 {
		return nil, ErrEmptySigningKey
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Logger{
		repo:       cfg.Repository,
		signingKey: cfg.SigningKey,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		feed:       cfg.Feed,
	}, nil
}

// ensureInit loads the chain head once. Callers must hold l.mu.
func (l *Logger) ensureInit(ctx context.Context) error {
	if l.initialized {
		return nil
	}

	head, err := l.repo.Latest(ctx)
	if err != nil {
		return fmt.Errorf("failed to load audit chain head: %w", err)
	}

	if head == nil {
		l.nextSeq = 0
		l.prevHash = GenesisHash
	} else {
		l.nextSeq = head.SequenceNumber + 1
		l.prevHash = head.Hash
	}
	l.initialized = true

	l.log.Debug("audit chain cursor initialized",
		"next_sequence", l.nextSeq)
	return nil
}

// LogEvent appends one event to the chain and returns the stored event.
//
// On persistence failure the cursor is not advanced, so a retry reuses the
// same sequence number and previous hash rather than leaving a gap. Callers
// must not let a logging failure abort the user-facing action it
// accompanies; the periodic integrity check is the safety net for missed
// events.
func (l *Logger) LogEvent(ctx context.Context, actor Actor, eventType string, details Details) (*Event, error) {
	if !ValidEventTypes[eventType] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, eventType)
	}

	e, err := l.appendChained(ctx, actor, eventType, details)
	if err != nil {
		return nil, err
	}

	// Broadcast outside the cursor lock so feed delivery can never stall
	// the append path.
	if l.feed != nil {
		l.feed.Broadcast(e)
	}

	return copyEvent(e), nil
}

// appendChained builds, hashes, signs, and persists the next event while
// holding the cursor lock.
func (l *Logger) appendChained(ctx context.Context, actor Actor, eventType string, details Details) (*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureInit(ctx); err != nil {
		if l.metrics != nil {
			l.metrics.IncAppendErrors()
		}
		return nil, err
	}

	// Truncated to microseconds so the hashed timestamp survives a
	// round-trip through timestamptz storage unchanged.
	now := time.Now().UTC().Truncate(time.Microsecond)
	e := &Event{
		ID:             fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String()[:8]),
		Timestamp:      now,
		UserID:         actor.UserID,
		EventType:      eventType,
		ResourceType:   details.ResourceType,
		ResourceID:     details.ResourceID,
		Success:        details.Success,
		ErrorMessage:   details.ErrorMessage,
		RequestID:      actor.RequestID,
		IPAddress:      actor.IPAddress,
		UserAgent:      actor.UserAgent,
		Metadata:       details.Metadata,
		PreviousHash:   l.prevHash,
		SequenceNumber: l.nextSeq,
	}

	hash, err := computeHash(e)
	if err != nil {
		if l.metrics != nil {
			l.metrics.IncAppendErrors()
		}
		return nil, err
	}
	e.Hash = hash
	e.Signature = sign(l.signingKey, hash)

	if err := l.repo.Append(ctx, e); err != nil {
		if l.metrics != nil {
			l.metrics.IncAppendErrors()
		}
		if errors.Is(err, ErrSequenceConflict) {
			// Another writer extended the chain first. Drop the cached
			// cursor so the next attempt re-reads the head.
			l.initialized = false
			return nil, err
		}
		return nil, fmt.Errorf("failed to append audit event: %w", err)
	}

	l.prevHash = e.Hash
	l.nextSeq++

	if l.metrics != nil {
		l.metrics.IncAppended()
	}

	return e, nil
}
