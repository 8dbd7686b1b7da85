package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ExportFormat defines supported export encodings.
type ExportFormat string

const (
	// ExportFormatCSV exports events as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports events as a JSON document.
	ExportFormatJSON ExportFormat = "json"
	// ExportFormatCBOR exports events as compact binary CBOR, suitable
	// for long-term archival.
	ExportFormatCBOR ExportFormat = "cbor"
)

// ExportWithProof fetches the events in [start, end] once and returns them
// together with a proof bundle computed over that same fetch: the Merkle
// root, the chain verification verdict, and an HMAC signature binding the
// root to the requested range. Verifying the fetched slice rather than
// re-querying keeps the verdict consistent with the exported events when
// appends land concurrently.
func (l *Logger) ExportWithProof(ctx context.Context, start, end time.Time) (*Export, error) {
	events, err := l.repo.QueryRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events for export: %w", err)
	}

	verification := verifyEvents(l.signingKey, events, start.IsZero())

	root := EventMerkleRoot(events)
	payload := root + start.UTC().Format(time.RFC3339Nano) + end.UTC().Format(time.RFC3339Nano)

	return &Export{
		Events: events,
		Proof: Proof{
			MerkleRoot:  root,
			ChainValid:  verification.Valid,
			Signature:   sign(l.signingKey, payload),
			GeneratedAt: time.Now().UTC(),
		},
	}, nil
}

// exportEvent is the flattened wire shape shared by the JSON and CBOR encoders.
type exportEvent struct {
	ID             string         `json:"id" cbor:"1,keyasint"`
	Timestamp      string         `json:"timestamp" cbor:"2,keyasint"`
	UserID         string         `json:"user_id,omitempty" cbor:"3,keyasint,omitempty"`
	EventType      string         `json:"event_type" cbor:"4,keyasint"`
	ResourceType   string         `json:"resource_type,omitempty" cbor:"5,keyasint,omitempty"`
	ResourceID     string         `json:"resource_id,omitempty" cbor:"6,keyasint,omitempty"`
	Success        bool           `json:"success" cbor:"7,keyasint"`
	ErrorMessage   string         `json:"error_message,omitempty" cbor:"8,keyasint,omitempty"`
	IPAddress      string         `json:"ip_address,omitempty" cbor:"9,keyasint,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty" cbor:"10,keyasint,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty" cbor:"11,keyasint,omitempty"`
	Hash           string         `json:"hash" cbor:"12,keyasint"`
	PreviousHash   string         `json:"previous_hash" cbor:"13,keyasint"`
	Signature      string         `json:"signature" cbor:"14,keyasint"`
	SequenceNumber int64          `json:"sequence_number" cbor:"15,keyasint"`
}

// exportBundle is the wire shape for a full export with proof.
type exportBundle struct {
	Events []exportEvent `json:"events" cbor:"1,keyasint"`
	Proof  Proof         `json:"proof" cbor:"2,keyasint"`
}

func toExportEvents(events []*Event) []exportEvent {
	out := make([]exportEvent, len(events))
	for i, e := range events {
		out[i] = exportEvent{
			ID:             e.ID,
			Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
			UserID:         e.UserID,
			EventType:      e.EventType,
			ResourceType:   e.ResourceType,
			ResourceID:     e.ResourceID,
			Success:        e.Success,
			ErrorMessage:   e.ErrorMessage,
			IPAddress:      e.IPAddress,
			UserAgent:      e.UserAgent,
			Metadata:       e.Metadata,
			Hash:           e.Hash,
			PreviousHash:   e.PreviousHash,
			Signature:      e.Signature,
			SequenceNumber: e.SequenceNumber,
		}
	}
	return out
}

// Encode serializes the export in the requested format.
func (x *Export) Encode(format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return encodeCSV(x.Events)
	case ExportFormatJSON:
		return json.MarshalIndent(exportBundle{
			Events: toExportEvents(x.Events),
			Proof:  x.Proof,
		}, "", "  ")
	case ExportFormatCBOR:
		return cbor.Marshal(exportBundle{
			Events: toExportEvents(x.Events),
			Proof:  x.Proof,
		})
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// encodeCSV writes one row per event. The proof bundle does not fit the
// tabular shape and is omitted; callers needing the proof use JSON or CBOR.
func encodeCSV(events []*Event) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"Sequence",
		"ID",
		"Timestamp (UTC)",
		"User ID",
		"Event Type",
		"Resource Type",
		"Resource ID",
		"Success",
		"Error Message",
		"IP Address",
		"Hash",
		"Previous Hash",
		"Signature",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range events {
		row := []string{
			fmt.Sprintf("%d", e.SequenceNumber),
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.UserID,
			e.EventType,
			e.ResourceType,
			e.ResourceID,
			fmt.Sprintf("%t", e.Success),
			e.ErrorMessage,
			e.IPAddress,
			e.Hash,
			e.PreviousHash,
			e.Signature,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}
