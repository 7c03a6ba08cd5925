package textnorm

import (
	"strings"

	"golang.org/x/net/html"
)

// stripHTML returns the text nodes of doc in reading order, each trimmed and
// joined by newlines. Empty nodes and the contents of script/style elements
// are dropped.
func stripHTML(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	var lines []string
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(lines, "\n")
		case html.StartTagToken:
			if isRawText(z) {
				skip++
			}
		case html.EndTagToken:
			if isRawText(z) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if line := strings.TrimSpace(string(z.Text())); line != "" {
				lines = append(lines, line)
			}
		}
	}
}

func isRawText(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}
