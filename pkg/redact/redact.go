// Package redact strips sensitive infrastructure identifiers from
// credential payloads before signing. Redaction is string-based defence in
// depth applied recursively to every string value; structural keys are
// preserved. Payloads should still be built from structured safe inputs —
// this pass catches what slips through.
package redact

import "regexp"

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Rule order matters: composite identifiers (ARNs) are replaced before
// their embedded account ids and regions would match narrower rules.
var rules = []rule{
	{regexp.MustCompile(`arn:aws[a-z0-9-]*:[a-zA-Z0-9:/._-]+`), "[REDACTED-ARN]"},
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), "[REDACTED-ACCESS-KEY]"},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}\b`), "[REDACTED-SECRET]"},
	{regexp.MustCompile(`\b\d{12}\b`), "[REDACTED-ACCOUNT]"},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[REDACTED-IP]"},
	{regexp.MustCompile(`[A-Za-z]:\\[^\s"']+`), "[REDACTED-PATH]"},
	{regexp.MustCompile(`(^|[\s"'=(\[])(/(?:[\w.@-]+/)*[\w.@-]+)`), "$1[REDACTED-PATH]"},
	{regexp.MustCompile(`\b(?:i|vol|sg|subnet|vpc|ami|eni|snap)-[0-9a-f]{8,17}\b`), "[REDACTED-RESOURCE]"},
	{regexp.MustCompile(`\b[a-z]{2}-(?:gov-)?[a-z]{4,9}-\d\b`), "[REDACTED-REGION]"},
}

// String sanitizes a single string value.
func String(s string) string {
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// Value sanitizes v recursively. Map keys survive untouched; only string
// values are rewritten. The input is not mutated.
func Value(v any) any {
	switch t := v.(type) {
	case string:
		return String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Value(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Value(val)
		}
		return out
	default:
		return v
	}
}
