// Package template implements placeholder substitution for message content.
// Supports simple {{variable}} substitution from a per-task context.
package template

import (
	"regexp"
	"strings"
)

// Context maps placeholder names to resolved values. Built fresh per task
// from row fields plus any profile attributes fetched at runtime.
type Context map[string]string

var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// Render substitutes every placeholder present in ctx with its value.
// Placeholders absent from ctx are left verbatim in the output and returned
// in missing, so a malformed template is visible in the result instead of
// silently producing empty text. Rendering is deterministic and idempotent:
// re-rendering output with no live placeholders returns it unchanged.
func Render(tmpl string, ctx Context) (out string, missing []string) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil // Fast path: no placeholders
	}

	seen := make(map[string]bool)
	out = placeholderRe.ReplaceAllStringFunc(tmpl, func(token string) string {
		name := token[2 : len(token)-2]
		if val, ok := ctx[name]; ok {
			return val
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return token
	})
	return out, missing
}
