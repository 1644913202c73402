// Package recipients extracts candidate email addresses from uploaded
// CSV or plain-text recipient lists and provides the address shape
// check used everywhere a raw recipient string enters the system.
package recipients

import (
	"regexp"
	"strings"
)

// addressPattern is a deliberately loose local@domain.tld shape check,
// not a full RFC 5322 parse. Anything failing it is skipped, never sent.
var addressPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var headerPattern = regexp.MustCompile(`(?i)email|e-mail|recipient|address`)

// ValidAddress reports whether s, after trimming, looks like an email
// address.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(strings.TrimSpace(s))
}

// Extract pulls candidate addresses out of raw CSV or newline-separated
// text. It tolerates a header row, splits comma-separated lines,
// lowercases, and de-duplicates while preserving first-seen order.
// Entries that fail the shape check are dropped here; callers passing
// pre-split lists go through the dispatcher's own per-recipient check
// instead.
func Extract(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil
	}

	start := 0
	if headerPattern.MatchString(lines[0]) && !addressPattern.MatchString(strings.TrimSpace(lines[0])) {
		start = 1
	}

	seen := make(map[string]struct{})
	var out []string

	for _, line := range lines[start:] {
		for _, part := range strings.Split(line, ",") {
			email := strings.ToLower(strings.TrimSpace(part))
			if email == "" || !addressPattern.MatchString(email) {
				continue
			}
			if _, dup := seen[email]; dup {
				continue
			}
			seen[email] = struct{}{}
			out = append(out, email)
		}
	}

	return out
}
