package ratelimit

import (
	"context"
	"time"
)

// LayerPolicy governs counter consumption when one dimension denies.
type LayerPolicy int

const (
	// ConsumeAll increments every dimension's counter even when an
	// earlier dimension already denied. A request blocked by the API-key
	// dimension still costs the user and IP dimensions quota.
	ConsumeAll LayerPolicy = iota
	// ShortCircuit stops consuming once a dimension denies, so a blocked
	// request costs nothing on the dimensions that were not yet checked.
	ShortCircuit
)

// Check describes one dimension of a multi-layer rate limit check.
type Check struct {
	// Layer labels the dimension (api_key, user, ip) for metrics and the
	// result.
	Layer string
	// Key is the composite counter key, e.g. "apiKey:<id>".
	Key string
	// Limit is the maximum requests per window for this dimension.
	Limit int
	// Window is the window size; zero means DefaultWindow.
	Window time.Duration
}

// MultiResult is the most restrictive outcome across the checked dimensions.
type MultiResult struct {
	Result
	// Layer is the dimension that produced this result: the first denying
	// dimension, or the allowed dimension with the tightest margin.
	Layer string
}

// MultiLayerChecks builds the standard dimension list from optional
// identifiers. Zero-valued entries are skipped.
func MultiLayerChecks(apiKeyID string, apiKeyLimit int, userID string, userLimit int, ipAddress string, ipLimit int) []Check {
	var checks []Check
	if apiKeyID != "" && apiKeyLimit > 0 {
		checks = append(checks, Check{Layer: LayerAPIKey, Key: APIKeyKey(apiKeyID), Limit: apiKeyLimit})
	}
	if userID != "" && userLimit > 0 {
		checks = append(checks, Check{Layer: LayerUser, Key: UserKey(userID), Limit: userLimit})
	}
	if ipAddress != "" && ipLimit > 0 {
		checks = append(checks, Check{Layer: LayerIP, Key: IPKey(ipAddress), Limit: ipLimit})
	}
	return checks
}

// CheckMultiLayer runs an independent fixed-window check for every
// dimension and returns the most restrictive outcome: the first denial
// encountered, or the allowed result with the smallest remaining count so
// callers get the most conservative back-off signal.
//
// Under the default ConsumeAll policy every dimension is consumed even
// after a denial; ShortCircuit stops consuming at the first denial.
func (l *Limiter) CheckMultiLayer(ctx context.Context, checks []Check) MultiResult {
	if len(checks) == 0 {
		return MultiResult{Result: Result{Allowed: true}}
	}

	var denied *MultiResult
	var tightest *MultiResult

	for _, c := range checks {
		if denied != nil && l.layerPolicy == ShortCircuit {
			break
		}

		res := l.CheckAndConsume(ctx, c.Key, c.Limit, c.Window)
		if l.metrics != nil {
			l.metrics.IncCheck(c.Layer, res.Allowed)
		}

		if !res.Allowed {
			if denied == nil {
				denied = &MultiResult{Result: res, Layer: c.Layer}
			}
			continue
		}
		if tightest == nil || res.Remaining < tightest.Remaining {
			tightest = &MultiResult{Result: res, Layer: c.Layer}
		}
	}

	if denied != nil {
		return *denied
	}
	return *tightest
}
