package digest

import "strings"

// Match keeps the articles whose headline or preview contains any keyword,
// ignoring case. Order is preserved.
func Match(keywords []string, articles []Article) []Article {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	var out []Article
	for _, a := range articles {
		headline, preview := strings.ToLower(a.Headline), strings.ToLower(a.Preview)
		for _, k := range lowered {
			if strings.Contains(headline, k) || strings.Contains(preview, k) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// Deduplicate drops every match already present in previous. A nil
// previous means there was no earlier run and returns matches unchanged.
func Deduplicate(matches, previous []Article) []Article {
	if previous == nil {
		return matches
	}
	seen := make(map[string]struct{}, len(previous))
	for _, p := range previous {
		seen[p.URL] = struct{}{}
	}
	out := make([]Article, 0, len(matches))
	for _, m := range matches {
		if _, dup := seen[m.URL]; !dup {
			out = append(out, m)
		}
	}
	return out
}
