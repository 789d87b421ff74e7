package replay

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// Correlation field aliases. Recorded bodies name the subject and the
// transaction under one of these keys; replay swaps in the new values
// wherever a matching field appears.
var (
	correlationAFields = []string{"user_id", "subject_id", "account_id"}
	correlationBFields = []string{"transaction_id", "tx_id", "verification_id"}
)

// SubstituteBody rewrites the correlation fields in a recorded request
// body according to its content type. JSON bodies are walked
// structurally; multipart and form-encoded bodies are rewritten as
// key/value text. Other content types pass through unchanged.
func SubstituteBody(contentType string, body []byte, corrA, corrB string) []byte {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		if out, ok := substituteJSON(body, corrA, corrB); ok {
			return out
		}
		return body
	case strings.Contains(ct, "multipart/form-data"):
		return substituteMultipart(body, corrA, corrB)
	case strings.Contains(ct, "x-www-form-urlencoded"):
		return substituteFormEncoded(body, corrA, corrB)
	default:
		return body
	}
}

// substituteJSON replaces the value of every correlation field in a JSON
// document, at any nesting depth. Returns ok=false when the body is not
// valid JSON.
func substituteJSON(body []byte, corrA, corrB string) ([]byte, bool) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false
	}

	data = walkSubstitute(data, corrA, corrB)

	// Encode without HTML escaping so payload bytes survive verbatim.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return nil, false
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, true
}

func walkSubstitute(data any, corrA, corrB string) any {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			if matchesField(key, correlationAFields) {
				v[key] = corrA
			} else if matchesField(key, correlationBFields) {
				v[key] = corrB
			} else {
				v[key] = walkSubstitute(val, corrA, corrB)
			}
		}
		return v
	case []any:
		for i, val := range v {
			v[i] = walkSubstitute(val, corrA, corrB)
		}
		return v
	default:
		return data
	}
}

func matchesField(key string, aliases []string) bool {
	for _, alias := range aliases {
		if strings.EqualFold(key, alias) {
			return true
		}
	}
	return false
}

// substituteMultipart rewrites form-data part values whose field name is
// a correlation alias. The part structure and boundaries stay intact.
func substituteMultipart(body []byte, corrA, corrB string) []byte {
	for _, alias := range correlationAFields {
		body = replaceMultipartField(body, alias, corrA)
	}
	for _, alias := range correlationBFields {
		body = replaceMultipartField(body, alias, corrB)
	}
	return body
}

func replaceMultipartField(body []byte, field, value string) []byte {
	// Parts may carry extra headers (e.g. Content-Type) between the
	// Content-Disposition line and the blank line preceding the value.
	re := regexp.MustCompile(`(?i)(name="` + regexp.QuoteMeta(field) + `"(?:\r?\n[^\r\n]+)*\r?\n\r?\n)[^\r\n]*`)
	return re.ReplaceAll(body, []byte("${1}"+escapeExpansion(value)))
}

// substituteFormEncoded rewrites key=value tokens for correlation aliases.
func substituteFormEncoded(body []byte, corrA, corrB string) []byte {
	s := string(body)
	for _, alias := range correlationAFields {
		s = replaceFormToken(s, alias, corrA)
	}
	for _, alias := range correlationBFields {
		s = replaceFormToken(s, alias, corrB)
	}
	return []byte(s)
}

func replaceFormToken(s, field, value string) string {
	re := regexp.MustCompile(`(?i)(^|[&;])` + regexp.QuoteMeta(field) + `=[^&;]*`)
	return re.ReplaceAllString(s, "${1}"+field+"="+escapeExpansion(value))
}

// escapeExpansion protects replacement values from $-group expansion.
func escapeExpansion(value string) string {
	return strings.ReplaceAll(value, "$", "$$")
}
