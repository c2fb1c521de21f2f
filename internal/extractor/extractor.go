// Package extractor parses free-form model output into an ordered list of
// movie candidates. It is the inverse of the numbered-list convention the
// recommender's prompt template imposes on the model: one recommendation per
// line, `N. "Title" (Year) - details`. The two are a matched pair and are
// tested together in the recommender package.
//
// Extraction is a pure function of the input text. It never fails: text with
// no recognizable structure degrades to a single unranked candidate, and
// empty text yields no candidates.
package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

// Candidate is one title mention pulled out of generated text, before
// enrichment. Rank is the 0-based position in the model's list.
type Candidate struct {
	Title   string
	Year    int
	Rank    int
	Snippet string
}

var (
	itemRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+(.+)$`)
	yearRe = regexp.MustCompile(`\((\d{4})\)$`)
)

// Extract returns the candidates found in text, in the order the model
// listed them.
func Extract(text string) []Candidate {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	matches := itemRe.FindAllStringSubmatch(text, -1)

	var candidates []Candidate
	for _, m := range matches {
		title, year := parseItem(m[1])
		if title == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:   title,
			Year:    year,
			Rank:    len(candidates),
			Snippet: strings.TrimSpace(m[0]),
		})
	}

	if len(candidates) > 0 {
		return candidates
	}

	// Degraded structure: treat the whole text as one unranked candidate.
	// A response that lost its list formatting is still worth enriching.
	trimmed := strings.TrimSpace(text)
	firstLine := trimmed
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = strings.TrimSpace(firstLine[:i])
	}
	title, year := parseItem(firstLine)
	if title == "" {
		title = firstLine
	}
	return []Candidate{{Title: title, Year: year, Rank: 0, Snippet: trimmed}}
}

// parseItem splits one list item into a clean title and optional year.
// Detail text after a dash separator is dropped; surrounding quotes and
// markdown emphasis are stripped; a trailing "(YYYY)" becomes the year.
func parseItem(item string) (string, int) {
	s := strings.TrimSpace(item)

	for _, sep := range []string{" — ", " – ", " - "} {
		if i := strings.Index(s, sep); i > 0 {
			s = s[:i]
			break
		}
	}
	s = strings.TrimSpace(s)

	year := 0
	if m := yearRe.FindStringSubmatch(s); m != nil {
		if y, err := strconv.Atoi(m[1]); err == nil {
			year = y
		}
		s = strings.TrimSpace(s[:len(s)-len(m[0])])
	}

	s = strings.Trim(s, `*_"'“”`)
	return strings.TrimSpace(s), year
}
