package check

import "regexp"

var linkPattern = regexp.MustCompile(`(?:https://t\.me/|@)([A-Za-z0-9_]+)`)

// ExtractLinks scans arbitrary text for Telegram channel/group references,
// either t.me URLs or @usernames, and returns them as canonical addresses in
// order of appearance. Duplicates are preserved; callers dedupe if needed.
func ExtractLinks(text string) []string {
	matches := linkPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	links := make([]string, 0, len(matches))
	for _, m := range matches {
		links = append(links, CanonicalHost+m[1])
	}
	return links
}
