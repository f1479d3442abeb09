package observability

import "unicode"

const defaultStringLimit = 256

// sanitizeString drops control characters and caps the rune count to keep log lines well formed.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if len(cleaned) == limit {
			break
		}
		cleaned = append(cleaned, r)
	}
	return string(cleaned)
}

// SanitizeRoute cleans a route pattern before it is logged.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeActor limits identifiers to reduce PII leakage in logs.
func SanitizeActor(id string) string {
	if id == "" {
		return ""
	}
	return sanitizeString(id, 64)
}
