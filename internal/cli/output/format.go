package output

import (
	"fmt"
	"strings"
)

// FormatHeader returns a markdown header of the given level (1-6).
func FormatHeader(level int, text string) string {
	level = max(1, min(level, 6))
	return strings.Repeat("#", level) + " " + text
}

// FormatKeyValue returns a markdown "**key:** value" line.
func FormatKeyValue(key string, value any) string {
	return fmt.Sprintf("**%s:** %v", key, value)
}

// FormatCount returns "1 node" or "N nodes".
func FormatCount(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}
