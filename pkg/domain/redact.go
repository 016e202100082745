package domain

import "strings"

// sensitiveKeys are parameter names whose values never reach a persisted
// invocation record.
var sensitiveKeys = []string{"api_key", "apikey", "token", "secret", "password", "credential"}

// RedactedValue replaces sensitive parameter values in stored records.
const RedactedValue = "[REDACTED]"

// RedactParams returns a deep copy of params with sensitive values masked.
// The input map is never mutated, so the caller's copy stays usable for the
// actual tool call.
func RedactParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if isSensitiveKey(k) {
			out[k] = RedactedValue
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			out[k] = RedactParams(sub)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
