package replay

import "encoding/json"

// ExtractRule names one candidate field path for a value of interest.
// Rules are evaluated in order; the first present, non-empty string wins.
type ExtractRule struct {
	Path []string // field path, at most one level of nesting
}

// tokenRules lists the known aliases under which upstreams return the
// verification token, most specific first.
var tokenRules = []ExtractRule{
	{Path: []string{"verification_token"}},
	{Path: []string{"token"}},
	{Path: []string{"result", "token"}},
	{Path: []string{"result", "verification_token"}},
	{Path: []string{"data", "token"}},
	{Path: []string{"data", "verification_token"}},
	{Path: []string{"access_token"}},
}

// sessionIDRules lists the aliases for a freshly created session resource
// identifier, used by the media replay protocol's first step.
var sessionIDRules = []ExtractRule{
	{Path: []string{"session_id"}},
	{Path: []string{"id"}},
	{Path: []string{"data", "session_id"}},
	{Path: []string{"data", "id"}},
	{Path: []string{"session", "id"}},
}

// ExtractToken scans a JSON response body for a verification token.
func ExtractToken(body []byte) (string, bool) {
	return extract(body, tokenRules)
}

// ExtractSessionID scans a JSON response body for a session identifier.
func ExtractSessionID(body []byte) (string, bool) {
	return extract(body, sessionIDRules)
}

// extract evaluates rules in order against a parsed JSON object;
// first match wins. Non-JSON and non-object bodies yield no match.
func extract(body []byte, rules []ExtractRule) (string, bool) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return "", false
	}

	for _, rule := range rules {
		if v, ok := lookupPath(data, rule.Path); ok {
			return v, true
		}
	}
	return "", false
}

func lookupPath(data map[string]any, path []string) (string, bool) {
	current := data
	for i, segment := range path {
		val, ok := current[segment]
		if !ok {
			return "", false
		}
		if i == len(path)-1 {
			s, isString := val.(string)
			return s, isString && s != ""
		}
		current, ok = val.(map[string]any)
		if !ok {
			return "", false
		}
	}
	return "", false
}
