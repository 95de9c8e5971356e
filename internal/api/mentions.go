package api

import (
	"regexp"
	"strings"
)

var (
	mentionPattern = regexp.MustCompile(`(?:^|[^A-Za-z0-9_@/\x60])@([A-Za-z0-9](?:[A-Za-z0-9-]{0,38}))`)
	fencePattern   = regexp.MustCompile("(?s)```.*?```")
	inlinePattern  = regexp.MustCompile("`[^`\n]*`")
	quotePattern   = regexp.MustCompile(`(?m)^>.*$`)
)

// ExtractMentions returns the distinct logins mentioned in a markdown body,
// in order of first appearance. Code spans and quoted lines are ignored.
func ExtractMentions(body string) []string {
	body = fencePattern.ReplaceAllString(body, " ")
	body = inlinePattern.ReplaceAllString(body, " ")
	body = quotePattern.ReplaceAllString(body, " ")

	var out []string
	seen := make(map[string]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(body, -1) {
		login := strings.TrimSuffix(m[1], "-")
		key := strings.ToLower(login)
		if login == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, login)
	}
	return out
}
