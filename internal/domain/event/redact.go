package event

import (
	"encoding/json"
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// credentialKeyFragments flag a key as credential-shaped when any of them
// appears in the normalized key name. Keys are lowercased with spaces and
// hyphens folded to underscores first, so "Api Key", "api-key" and
// "apiKey" all match.
var credentialKeyFragments = []string{
	"token",
	"secret",
	"password",
	"api_key",
	"apikey",
	"authorization",
	"credential",
	"private_key",
	"cookie",
}

var (
	bearerValueRe = regexp.MustCompile(`(?i)^bearer\s+\S+$`)
	jwtValueRe    = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`)
)

var keySeparators = strings.NewReplacer(" ", "_", "-", "_")

func credentialKey(key string) bool {
	k := keySeparators.Replace(strings.ToLower(key))
	for _, frag := range credentialKeyFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

func credentialValue(s string) bool {
	return bearerValueRe.MatchString(s) || jwtValueRe.MatchString(s)
}

// Redact walks arbitrary JSON and strips credential material before the
// data is persisted or published. Values under credential-shaped keys are
// replaced wholesale at any depth, and string values that look like
// bearer headers or JWTs are replaced even under innocuous keys. Sibling
// fields are left untouched. Invalid input is passed through unchanged so
// a malformed payload never blocks an audit write.
func Redact(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return data
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return data
	}
	out, err := json.Marshal(redactValue(v))
	if err != nil {
		return data
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			if credentialKey(k) {
				val[k] = redactedPlaceholder
				continue
			}
			val[k] = redactValue(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = redactValue(inner)
		}
		return val
	case string:
		if credentialValue(val) {
			return redactedPlaceholder
		}
		return val
	default:
		return val
	}
}
