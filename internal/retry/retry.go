// Package retry classifies provider errors for bounded-retry decisions.
// The AI provider SDKs expose no typed errors for transient failures, so
// classification falls back to substring matching. Embedding and generation
// share this one list so their retry policies cannot drift apart.
package retry

import "strings"

var transientPatterns = []string{
	"rate limit", "quota", "429",
	"500", "502", "503", "504", "unavailable",
	"connection reset", "timeout", "temporary",
}

// Transient reports whether err looks like a temporary provider or network
// failure worth another attempt. Anything else (auth, invalid request) should
// fail immediately.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
