package transport

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// Redacted replaces sensitive values in logged bodies and URLs.
const Redacted = "[REDACTED]"

var (
	sensitiveKey = regexp.MustCompile(`(?i)((^|[_-])(token|secret|password|code|assertion|signature)|^wstoken)$`)

	// Fallback for bodies that are neither JSON nor a form.
	sensitivePair = regexp.MustCompile(`(?i)("?[a-z_-]*(token|secret|password|code|assertion|signature)"?\s*[:=]\s*)("[^"]*"|[^&\s,}]+)`)
)

func isSensitive(key string) bool {
	return sensitiveKey.MatchString(key)
}

// RedactBody elides the values of sensitive keys in a JSON or form-encoded body.
func RedactBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err == nil {
		out, err := json.Marshal(redactJSON(doc))
		if err == nil {
			return string(out)
		}
	}

	if looksLikeForm(body) {
		form, _ := url.ParseQuery(string(body))
		return redactValues(form).Encode()
	}

	return sensitivePair.ReplaceAllString(string(body), "${1}"+Redacted)
}

// RedactURL elides sensitive query parameters.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery != "" {
		u.RawQuery = redactValues(u.Query()).Encode()
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

func redactValues(in url.Values) url.Values {
	out := make(url.Values, len(in))
	for k, vs := range in {
		if isSensitive(k) {
			out[k] = []string{Redacted}
			continue
		}
		out[k] = vs
	}
	return out
}

func redactJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if isSensitive(k) {
				t[k] = Redacted
				continue
			}
			t[k] = redactJSON(inner)
		}
		return t
	case []any:
		for i := range t {
			t[i] = redactJSON(t[i])
		}
		return t
	default:
		return v
	}
}

// looksLikeForm reports whether b parses as a non-empty form without free text.
func looksLikeForm(b []byte) bool {
	if !strings.Contains(string(b), "=") || strings.ContainsAny(string(b), " \n\t<") {
		return false
	}
	_, err := url.ParseQuery(string(b))
	return err == nil
}
