package analysis

import (
	"strings"
	"unicode"
)

// ASCII-like markers must be followed by a space so that "-5%" or "**Bold**"
// lines are not taken for bullets.
var (
	glyphMarkers  = []string{"•", "▪", "·", "●"}
	spacedMarkers = []string{"- ", "* ", "– ", "— ", "+ "}
)

// ParseBullets extracts list items from a model response, stripping bullet or
// numbering markers and keeping at most limit items. A response with no list
// lines is returned whole as a single item.
func ParseBullets(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}

	var items []string
	for _, line := range strings.Split(text, "\n") {
		item, ok := stripMarker(strings.TrimSpace(line))
		if !ok || strings.Trim(item, "-*_=") == "" {
			continue
		}
		items = append(items, item)
		if limit > 0 && len(items) == limit {
			break
		}
	}

	if len(items) == 0 {
		return []string{text}
	}
	return items
}

func stripMarker(line string) (string, bool) {
	for _, m := range glyphMarkers {
		if strings.HasPrefix(line, m) {
			return cleanItem(strings.TrimPrefix(line, m)), true
		}
	}
	for _, m := range spacedMarkers {
		if strings.HasPrefix(line, m) {
			return cleanItem(strings.TrimPrefix(line, m)), true
		}
	}

	// Numbered items: "1." "2)" "10 -"
	i := 0
	for i < len(line) && i < 3 && unicode.IsDigit(rune(line[i])) {
		i++
	}
	if i == 0 || i == len(line) {
		return "", false
	}
	switch line[i] {
	case '.', ')', ':':
		// "10.5%" and "2.3x" are figures, not numbering.
		if i+1 < len(line) && line[i+1] != ' ' && line[i+1] != '\t' {
			return "", false
		}
		return cleanItem(line[i+1:]), true
	case ' ':
		rest := strings.TrimSpace(line[i:])
		if strings.HasPrefix(rest, "-") {
			return cleanItem(strings.TrimPrefix(rest, "-")), true
		}
	}
	return "", false
}

func cleanItem(s string) string {
	s = strings.TrimSpace(s)
	// Drop markdown emphasis wrapping the whole item.
	if strings.HasPrefix(s, "**") && strings.HasSuffix(s, "**") && len(s) > 4 {
		s = strings.TrimSpace(s[2 : len(s)-2])
	}
	return s
}
