// Package redact masks credentials before anything reaches a log line,
// report, or error message. Redaction is applied at the output boundary,
// so the rest of the engine can pass URLs and DSNs around freely.
package redact

import (
	"net/url"
	"regexp"
	"strings"
)

// secretKeys are parameter names whose values are always masked, whether
// they appear in query strings, DSN pairs, or env-style assignments.
var secretKeys = []string{
	"password", "passwd", "pwd", "secret", "token", "api_key",
	"apikey", "auth", "credential", "credentials", "key",
}

var (
	userinfoPattern = regexp.MustCompile(`(\w+://)[^/@\s:]+:[^/@\s]+@`)
	dsnPattern      = regexp.MustCompile(`(?i)\b(` + strings.Join(secretKeys, "|") + `)(\s*=\s*)([^\s;&]+)`)
	envPattern      = regexp.MustCompile(`(?i)\b([A-Z0-9_]*(?:PASSWORD|SECRET|TOKEN))(\s*=\s*)([^\s;&]+)`)
)

// String masks credentials in an arbitrary string: URI userinfo,
// key=value DSN pairs, secret query parameters, and *_PASSWORD-style
// environment assignments.
func String(s string) string {
	if s == "" {
		return s
	}
	out := userinfoPattern.ReplaceAllString(s, "${1}***:***@")
	out = dsnPattern.ReplaceAllString(out, "${1}${2}***")
	out = envPattern.ReplaceAllString(out, "${1}${2}***")
	return out
}

// Error masks credentials in an error's message. Nil-safe.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// URL redacts a connection URL for display: userinfo is replaced and any
// secret query parameter is masked. Unparseable input fails closed.
func URL(raw string) string {
	if raw == "" {
		return "N/A"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		// Not a URL; run the generic string masking and, if nothing
		// matched but the input still looks credential-bearing, hide it.
		masked := String(raw)
		if masked == raw && strings.Contains(raw, "@") && strings.Contains(raw, ":") {
			return "[redacted]"
		}
		return masked
	}
	hadUser := u.User != nil
	u.User = nil
	q := u.Query()
	changed := false
	for key := range q {
		for _, secret := range secretKeys {
			if strings.EqualFold(key, secret) {
				q.Set(key, "***")
				changed = true
			}
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	out := u.String()
	if hadUser {
		// url.Userinfo would percent-encode the mask; splice it in literally.
		out = strings.Replace(out, "//", "//***:***@", 1)
	}
	return out
}
