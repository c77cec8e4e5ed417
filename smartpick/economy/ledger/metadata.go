package ledger

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/dave999999/SmartPick1-sub004/smartpick/economy"
)

// Bounds for transaction metadata persisted as jsonb.
const (
	MaxMetadataBytes = 100 * 1024
	MaxDepth         = 5
	MaxKeys          = 100
	MaxArrayLength   = 100
	MaxStringLength  = 10000
)

const (
	depthMarker    = "[MAX_DEPTH_EXCEEDED]"
	truncateMarker = "...[TRUNCATED]"
)

// SanitizeMetadata validates and bounds caller-supplied metadata before it
// reaches the ledger. It is pure and total: for any input it returns either
// a bounded-safe copy or a ValidationError, never panics, and never mutates
// its argument. Nil is accepted and becomes an empty object.
func SanitizeMetadata(metadata map[string]any) (map[string]any, error) {
	if metadata == nil {
		return map[string]any{}, nil
	}

	// Reject before the expensive walk when the raw input is already far
	// over the wire cap. Unencodable values are caught here too.
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, &economy.ValidationError{Field: "metadata", Reason: "not JSON-encodable"}
	}
	if len(raw) > MaxMetadataBytes {
		return nil, &economy.ValidationError{Field: "metadata", Reason: "exceeds 100KB size limit"}
	}

	sanitized := sanitizeObject(metadata, 0)

	final, err := json.Marshal(sanitized)
	if err != nil {
		return nil, &economy.ValidationError{Field: "metadata", Reason: "not JSON-encodable"}
	}
	if len(final) > MaxMetadataBytes {
		return nil, &economy.ValidationError{Field: "metadata", Reason: "exceeds 100KB size limit"}
	}

	return sanitized, nil
}

func sanitizeObject(obj map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(obj))
	count := 0
	for key, value := range obj {
		if count >= MaxKeys {
			break
		}
		cleanKey := truncateString(sanitizeString(key), 100)
		if cleanKey == "" || strings.HasPrefix(cleanKey, "_") {
			continue
		}
		out[cleanKey] = sanitizeValue(value, depth+1)
		count++
	}
	return out
}

func sanitizeValue(value any, depth int) any {
	if depth > MaxDepth {
		return depthMarker
	}

	switch v := value.(type) {
	case nil:
		return nil
	case bool:
		return v
	case float64:
		return v
	case int:
		return v
	case int64:
		return v
	case string:
		s := sanitizeString(v)
		if len(s) > MaxStringLength {
			return truncateString(s, MaxStringLength) + truncateMarker
		}
		return s
	case []any:
		limit := len(v)
		if limit > MaxArrayLength {
			limit = MaxArrayLength
		}
		out := make([]any, 0, limit)
		for _, item := range v[:limit] {
			out = append(out, sanitizeValue(item, depth+1))
		}
		return out
	case map[string]any:
		return sanitizeObject(v, depth)
	default:
		// Unknown Go types round-trip through JSON above, so anything left
		// is flattened to a short string.
		return truncateString(sanitizeString(toString(v)), 100)
	}
}

// truncateString cuts s to at most max bytes, backing up to the previous
// rune boundary so the result is always valid UTF-8.
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// sanitizeString strips NUL and control characters, keeping tab, newline and
// carriage return, and trims surrounding whitespace.
func sanitizeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == 0x7F {
			continue
		}
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func toString(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.Trim(string(raw), `"`)
}
