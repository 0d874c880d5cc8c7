package record

import (
	"regexp"
	"strings"
)

// Checklist sections arrive as "$Header|...#Header|...#". RE2 has no
// backreferences, so the header equality is checked per match.
var templatedBlockPattern = regexp.MustCompile(`\$([^|#$]+)\|(?s:.*?)#([^|#$]+)\|(?s:.*?)#`)

// ReplaceTemplatedBlocks collapses every templated block into its header,
// uppercased, on a line of its own.
func ReplaceTemplatedBlocks(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return templatedBlockPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := templatedBlockPattern.FindStringSubmatch(m)
		if len(sub) != 3 || sub[1] != sub[2] {
			return m
		}
		return "\n" + strings.ToUpper(sub[1]) + "\n"
	})
}
