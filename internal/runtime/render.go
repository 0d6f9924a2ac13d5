package runtime

import (
	"fmt"
	"strings"
)

// interpolate substitutes {field} placeholders in content from collected
// data. Unknown fields are left verbatim so missing data is visible in the
// output instead of silently blanked.
func interpolate(content string, data map[string]any) string {
	if !strings.Contains(content, "{") {
		return content
	}
	var b strings.Builder
	b.Grow(len(content))
	for {
		open := strings.IndexByte(content, '{')
		if open < 0 {
			b.WriteString(content)
			return b.String()
		}
		close := strings.IndexByte(content[open:], '}')
		if close < 0 {
			b.WriteString(content)
			return b.String()
		}
		close += open
		b.WriteString(content[:open])
		field := content[open+1 : close]
		if v, ok := data[field]; ok {
			b.WriteString(fmt.Sprint(v))
		} else {
			b.WriteString(content[open : close+1])
		}
		content = content[close+1:]
	}
}
