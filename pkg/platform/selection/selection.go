// Package selection cleans multi-select form values.
package selection

import "strings"

// Clean trims every option, drops blanks and removes repeats while keeping
// the order the caller chose. Repeats are matched case-insensitively and the
// first spelling wins. An input with nothing left returns nil.
func Clean(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Has reports whether option appears in values, ignoring case and
// surrounding space.
func Has(values []string, option string) bool {
	option = strings.TrimSpace(option)
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), option) {
			return true
		}
	}
	return false
}
