// Package api provides HTTP handlers for the LabTrail API.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/antevus/labtrail/internal/audit"
	"github.com/antevus/labtrail/internal/middleware"
)

// Query constraints for event listing.
const (
	DefaultEventListLimit = 100
	MaxEventListLimit     = 1000
)

// AuditHandlers holds dependencies for audit trail HTTP handlers.
type AuditHandlers struct {
	logger *audit.Logger
	repo   audit.Repository
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(logger *audit.Logger, repo audit.Repository) *AuditHandlers {
	return &AuditHandlers{logger: logger, repo: repo}
}

// parseTimeRange reads optional start/end RFC3339 query parameters.
// A zero start means "from the genesis event"; a zero end means "until now".
func parseTimeRange(r *http.Request) (start, end time.Time, errMsg string) {
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return start, end, "start must be an RFC 3339 timestamp"
		}
		start = t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return start, end, "end must be an RFC 3339 timestamp"
		}
		end = t
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return start, end, "start must be before end"
	}
	return start, end, ""
}

// eventResponse is the JSON shape for a single audit event.
type eventResponse struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	UserID         string         `json:"user_id,omitempty"`
	EventType      string         `json:"event_type"`
	ResourceType   string         `json:"resource_type,omitempty"`
	ResourceID     string         `json:"resource_id,omitempty"`
	Success        bool           `json:"success"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	IPAddress      string         `json:"ip_address,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Hash           string         `json:"hash"`
	PreviousHash   string         `json:"previous_hash"`
	SequenceNumber int64          `json:"sequence_number"`
}

func toEventResponses(events []*audit.Event) []eventResponse {
	out := make([]eventResponse, len(events))
	for i, e := range events {
		out[i] = eventResponse{
			ID:             e.ID,
			Timestamp:      e.Timestamp,
			UserID:         e.UserID,
			EventType:      e.EventType,
			ResourceType:   e.ResourceType,
			ResourceID:     e.ResourceID,
			Success:        e.Success,
			ErrorMessage:   e.ErrorMessage,
			RequestID:      e.RequestID,
			IPAddress:      e.IPAddress,
			Metadata:       e.Metadata,
			Hash:           e.Hash,
			PreviousHash:   e.PreviousHash,
			SequenceNumber: e.SequenceNumber,
		}
	}
	return out
}

// ListEvents handles GET /v1/audit/events.
// Query parameters: start, end (RFC 3339), user_id, limit.
// When user_id is set, returns that user's most recent events and ignores
// the time range.
func (h *AuditHandlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	limit := DefaultEventListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		if n > MaxEventListLimit {
			n = MaxEventListLimit
		}
		limit = n
	}

	var events []*audit.Event
	var err error

	if userID := r.URL.Query().Get("user_id"); userID != "" {
		events, err = h.repo.QueryByUser(r.Context(), userID, limit)
	} else {
		start, end, errMsg := parseTimeRange(r)
		if errMsg != "" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidTimeRange)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidTimeRange, errMsg)
			return
		}
		events, err = h.repo.QueryRange(r.Context(), start, end)
		if err == nil && len(events) > limit {
			events = events[len(events)-limit:]
		}
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to query audit events", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to query audit events")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"events": toEventResponses(events),
		"count":  len(events),
	}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode events response", "error", err)
	}
}

// verifyResponse is the JSON shape for a chain verification verdict.
type verifyResponse struct {
	Valid          bool     `json:"valid"`
	EventsChecked  int      `json:"events_checked"`
	BrokenChainAt  *int64   `json:"broken_chain_at,omitempty"`
	TamperedEvents []string `json:"tampered_events,omitempty"`
	AnchorSequence int64    `json:"anchor_sequence"`
	Errors         []string `json:"errors,omitempty"`
}

// VerifyChain handles GET /v1/audit/verify.
// Query parameters: start, end (RFC 3339, both optional). Omitting start
// verifies from the genesis event, which additionally checks the genesis
// linkage.
func (h *AuditHandlers) VerifyChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	start, end, errMsg := parseTimeRange(r)
	if errMsg != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidTimeRange)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidTimeRange, errMsg)
		return
	}

	result, err := h.logger.VerifyChain(r.Context(), start, end)
	if err != nil {
		slog.ErrorContext(r.Context(), "chain verification failed", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to verify audit chain")
		return
	}

	resp := verifyResponse{
		Valid:          result.Valid,
		EventsChecked:  result.EventsChecked,
		TamperedEvents: result.TamperedEvents,
		AnchorSequence: result.AnchorSequence,
		Errors:         result.Errors,
	}
	if result.BrokenChainAt >= 0 {
		seq := result.BrokenChainAt
		resp.BrokenChainAt = &seq
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode verify response", "error", err)
	}
}

// exportContentTypes maps export formats to their response content types.
var exportContentTypes = map[audit.ExportFormat]string{
	audit.ExportFormatCSV:  "text/csv; charset=utf-8",
	audit.ExportFormatJSON: "application/json; charset=utf-8",
	audit.ExportFormatCBOR: "application/cbor",
}

// Export handles GET /v1/audit/export.
// Query parameters: format (csv, json, cbor; default json), start, end
// (RFC 3339, both optional). JSON and CBOR responses carry the proof bundle;
// CSV carries the events only.
func (h *AuditHandlers) Export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	format := audit.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = audit.ExportFormatJSON
	}
	contentType, ok := exportContentTypes[format]
	if !ok {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnsupportedFormat)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnsupportedFormat,
			fmt.Sprintf("unsupported format %q (supported: csv, json, cbor)", format))
		return
	}

	start, end, errMsg := parseTimeRange(r)
	if errMsg != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidTimeRange)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidTimeRange, errMsg)
		return
	}

	export, err := h.logger.ExportWithProof(r.Context(), start, end)
	if err != nil {
		slog.ErrorContext(r.Context(), "audit export failed", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to export audit events")
		return
	}

	data, err := export.Encode(format)
	if err != nil {
		slog.ErrorContext(r.Context(), "audit export encoding failed", "error", err, "format", format)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to encode audit export")
		return
	}

	filename := fmt.Sprintf("audit-export-%s.%s", time.Now().UTC().Format("20060102T150405Z"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(r.Context(), "failed to write export response", "error", err)
	}
}
