package util

import (
	"strings"
)

// ComposeCaption joins the caption body with hashtag and mention lines the way
// the platforms expect them: body first, then mentions, then hashtags.
func ComposeCaption(caption string, hashtags, mentions []string) string {
	parts := []string{strings.TrimSpace(caption)}

	if len(mentions) > 0 {
		line := make([]string, 0, len(mentions))
		for _, m := range mentions {
			m = strings.TrimSpace(m)
			if m == "" {
				continue
			}
			if !strings.HasPrefix(m, "@") {
				m = "@" + m
			}
			line = append(line, m)
		}
		if len(line) > 0 {
			parts = append(parts, strings.Join(line, " "))
		}
	}

	if len(hashtags) > 0 {
		line := make([]string, 0, len(hashtags))
		for _, h := range hashtags {
			h = strings.TrimSpace(h)
			if h == "" {
				continue
			}
			if !strings.HasPrefix(h, "#") {
				h = "#" + h
			}
			line = append(line, h)
		}
		if len(line) > 0 {
			parts = append(parts, strings.Join(line, " "))
		}
	}

	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}

	return strings.Join(nonEmpty, "\n\n")
}

// Truncate cuts s to at most max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}
