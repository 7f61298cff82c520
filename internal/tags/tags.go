package tags

import "strings"

// Separator joins canonical tags.
const Separator = ", "

// Split breaks raw tag input on commas and newlines, trimming each part and
// dropping empties. Duplicates are kept.
func Split(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n'
	})

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Normalize returns the canonical form of a tag list: split on commas or
// newlines, trimmed, deduplicated case-insensitively keeping the first-seen
// casing and order, joined with ", ".
func Normalize(raw string) string {
	seen := make(map[string]bool)
	var kept []string
	for _, p := range Split(raw) {
		key := strings.ToLower(p)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, p)
	}
	return strings.Join(kept, Separator)
}
