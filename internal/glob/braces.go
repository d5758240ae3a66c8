package glob

import "strings"

// expandBraces rewrites {a,b} alternatives into separate patterns so that
// alternatives spanning path segments can be pruned segment by segment.
// Unbalanced braces are returned unchanged for doublestar to reject.
func expandBraces(pattern string) []string {
	open, closing := findBraces(pattern)
	if open < 0 {
		return []string{pattern}
	}
	prefix := pattern[:open]
	suffix := pattern[closing+1:]
	var expanded []string
	for _, option := range splitOptions(pattern[open+1 : closing]) {
		expanded = append(expanded, expandBraces(prefix+option+suffix)...)
	}
	return dedupe(expanded)
}

// findBraces locates the first top-level brace group.
func findBraces(pattern string) (int, int) {
	depth := 0
	open := -1
	escaped := false
	inClass := false
	for index := 0; index < len(pattern); index++ {
		char := pattern[index]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case char == '\\':
			escaped = true
		case char == '[' && !inClass:
			inClass = true
		case char == ']' && inClass:
			inClass = false
		case inClass:
		case char == '{':
			if depth == 0 {
				open = index
			}
			depth++
		case char == '}' && depth > 0:
			depth--
			if depth == 0 {
				return open, index
			}
		}
	}
	return -1, -1
}

func splitOptions(body string) []string {
	var options []string
	depth := 0
	start := 0
	escaped := false
	for index := 0; index < len(body); index++ {
		char := body[index]
		if escaped {
			escaped = false
			continue
		}
		switch char {
		case '\\':
			escaped = true
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				options = append(options, body[start:index])
				start = index + 1
			}
		}
	}
	return append(options, body[start:])
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, value := range values {
		value = strings.ReplaceAll(value, "//", "/")
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
