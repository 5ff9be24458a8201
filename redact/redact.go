// redact/redact.go
package redact

// RedactSensitiveCredential redacts credential material (passwords, bearer
// tokens) before it reaches a log line, based on the hideSensitiveData flag.
func RedactSensitiveCredential(hideSensitiveData bool, value string) string {
	if hideSensitiveData && value != "" {
		return "REDACTED"
	}
	return value
}

// TruncateToken returns a loggable prefix of a bearer token. Full tokens never
// belong in logs even when redaction is off; eight characters is enough to
// correlate against server-side audit records.
func TruncateToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
