package naming

import (
	"regexp"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
)

// LabelPattern is the shape release names and namespaces must have.
const LabelPattern = "^[a-z0-9]([-a-z0-9]*[a-z0-9])?$"

var (
	// invalidCharsRegex matches any character that is not lowercase alphanumeric or dash
	invalidCharsRegex = regexp.MustCompile(`[^a-z0-9\-]`)
	// multiDashRegex matches consecutive dashes
	multiDashRegex = regexp.MustCompile(`-+`)
	labelRegex     = regexp.MustCompile(LabelPattern)
)

// IsLabel reports whether s is a valid RFC 1123 label of at most maxLen
// characters. maxLen <= 0 means validation.DNS1123LabelMaxLength.
func IsLabel(s string, maxLen int) bool {
	if maxLen <= 0 || maxLen > validation.DNS1123LabelMaxLength {
		maxLen = validation.DNS1123LabelMaxLength
	}
	if len(s) == 0 || len(s) > maxLen {
		return false
	}
	return labelRegex.MatchString(s) && len(validation.IsDNS1123Label(s)) == 0
}

// LabelViolations returns the apimachinery messages describing why s is not
// a DNS-1123 label, or nil when it is one.
func LabelViolations(s string) []string {
	return validation.IsDNS1123Label(s)
}

// ToRFC1123Label converts an arbitrary string to a DNS-1123 label.
// Labels must:
//   - contain only lowercase alphanumeric characters or '-'
//   - start and end with an alphanumeric character
//   - be at most 63 characters long
//
// It is used to suggest a corrected release name and to derive file name
// components from cluster ids. If the input cannot produce a valid value,
// returns "x" as a fallback.
func ToRFC1123Label(s string) string {
	if s == "" {
		return "x"
	}

	s = strings.ToLower(s)
	s = invalidCharsRegex.ReplaceAllString(s, "-")
	s = multiDashRegex.ReplaceAllString(s, "-")
	s = trimNonAlnum(s)

	if s == "" {
		return "x"
	}

	if len(s) > validation.DNS1123LabelMaxLength {
		s = s[:validation.DNS1123LabelMaxLength]
		s = trimNonAlnum(s)
		if s == "" {
			return "x"
		}
	}

	return s
}

// isAlnum returns true if the rune is a lowercase alphanumeric character.
// Note: Input is expected to be already lowercased.
func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// trimNonAlnum removes leading and trailing non-alphanumeric characters from a string.
func trimNonAlnum(s string) string {
	for len(s) > 0 && !isAlnum(rune(s[0])) {
		s = s[1:]
	}
	for len(s) > 0 && !isAlnum(rune(s[len(s)-1])) {
		s = s[:len(s)-1]
	}
	return s
}
