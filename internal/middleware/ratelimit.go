package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/antevus/labtrail/internal/audit"
	"github.com/antevus/labtrail/internal/ratelimit"
)

// RateLimitConfig holds the per-dimension base limits for the middleware.
// A zero limit disables that dimension.
type RateLimitConfig struct {
	APIKeyLimit int
	UserLimit   int
	IPLimit     int
	Window      time.Duration
}

// RateLimit is a middleware that enforces the multi-layer rate limit. It
// returns HTTP 429 Too Many Requests when any dimension is exhausted, with
// Retry-After and X-RateLimit-* headers for client back-off.
//
// The user dimension's base limit is scaled by the limiter's adaptive and
// behavioral multipliers. Denials are recorded to the audit log when an
// audit logger is provided; a failed audit write never blocks the request
// path.
func RateLimit(limiter *ratelimit.Limiter, cfg RateLimitConfig, auditLog *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := GetUserID(r.Context())
			userLimit := cfg.UserLimit
			if userLimit > 0 {
				userLimit = limiter.EffectiveLimit(userID, userLimit)
			}

			checks := ratelimit.MultiLayerChecks(
				GetAPIKeyID(r.Context()), cfg.APIKeyLimit,
				userID, userLimit,
				ClientIP(r), cfg.IPLimit,
			)
			if len(checks) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			for i := range checks {
				checks[i].Window = cfg.Window
			}

			result := limiter.CheckMultiLayer(r.Context(), checks)

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			if !result.ResetAt.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			}

			if !result.Allowed {
				recordDenial(r, auditLog, result)
				// A denial counts against reputation but is not by itself
				// abuse: a shared IP or API key can exhaust its window for
				// a well-behaved user. The sticky suspicious flag is
				// reserved for the post-response 401/403 signal below.
				limiter.ObserveBehavior(userID, false, false)

				UpdateResponseContext(w, SetErrorCode(r.Context(), "rate_limit_exceeded"))

				retryAfter := int(time.Until(result.ResetAt).Seconds())
				if retryAfter <= 0 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			rec := newMetricsResponseWriter(w)
			next.ServeHTTP(rec, r)

			// Feed the outcome back into the caller's behavior profile.
			// Auth failures count as suspicious activity.
			suspicious := rec.statusCode == http.StatusUnauthorized || rec.statusCode == http.StatusForbidden
			limiter.ObserveBehavior(userID, rec.statusCode < 400, suspicious)
		})
	}
}

// recordDenial appends a rate-limit violation to the audit log.
func recordDenial(r *http.Request, auditLog *audit.Logger, result ratelimit.MultiResult) {
	if auditLog == nil {
		return
	}

	_, err := auditLog.LogEvent(r.Context(),
		audit.Actor{
			UserID:    GetUserID(r.Context()),
			RequestID: GetRequestID(r.Context()),
			IPAddress: ClientIP(r),
			UserAgent: r.UserAgent(),
		},
		audit.EventTypeRateLimitExceeded,
		audit.Details{
			ResourceType: "endpoint",
			ResourceID:   r.URL.Path,
			Success:      false,
			Metadata: map[string]any{
				"layer":    result.Layer,
				"reset_at": result.ResetAt.UTC().Format(time.RFC3339),
			},
		},
	)
	if err != nil {
		// Rate limiting must not depend on audit availability.
		slog.ErrorContext(context.WithoutCancel(r.Context()),
			"failed to audit rate limit denial", "error", err)
	}
}
