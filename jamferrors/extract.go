// jamferrors/extract.go
package jamferrors

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Fallback messages used when nothing useful can be pulled out of a Classic
// API error body. The extraction below is best-effort only: the substrings it
// looks for are generated by the server's web layer and shift between Jamf Pro
// releases, so callers must never depend on the extracted text.
const (
	genericConflictMessage   = "Conflict with an existing resource"
	genericBadRequestMessage = "Bad request"
)

// ExtractConflictMessage pulls a human-readable cause out of a 409 response
// body. Known patterns are tried in order; the generic message is returned
// when none match.
func ExtractConflictMessage(body []byte) string {
	paragraphs := extractParagraphTexts(body)

	for _, p := range paragraphs {
		if msg, ok := strings.CutPrefix(p, "Error: "); ok {
			return strings.TrimSpace(msg)
		}
	}
	for _, p := range paragraphs {
		if strings.Contains(p, "already exists") || strings.Contains(p, "Duplicate") {
			return p
		}
	}
	if plain := firstPlainTextLine(body); plain != "" {
		if msg, ok := strings.CutPrefix(plain, "Error: "); ok {
			return strings.TrimSpace(msg)
		}
	}
	return genericConflictMessage
}

// ExtractBadRequestMessage pulls the first descriptive sentence out of a 400
// response body, falling back to a generic message.
func ExtractBadRequestMessage(body []byte) string {
	paragraphs := extractParagraphTexts(body)
	for _, p := range paragraphs {
		if sentence := firstSentence(p); sentence != "" {
			return sentence
		}
	}
	if plain := firstPlainTextLine(body); plain != "" {
		if sentence := firstSentence(plain); sentence != "" {
			return sentence
		}
	}
	return genericBadRequestMessage
}

// extractParagraphTexts returns the trimmed text content of every <p> element
// in an HTML body, in document order. A non-HTML body yields nil.
func extractParagraphTexts(body []byte) []string {
	if !bytes.Contains(body, []byte("<")) {
		return nil
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var texts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "p" {
			var sb strings.Builder
			var collect func(*html.Node)
			collect = func(c *html.Node) {
				if c.Type == html.TextNode {
					sb.WriteString(c.Data)
				}
				for child := c.FirstChild; child != nil; child = child.NextSibling {
					collect(child)
				}
			}
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				collect(child)
			}
			if text := strings.TrimSpace(sb.String()); text != "" {
				texts = append(texts, text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return texts
}

// firstPlainTextLine returns the first non-empty line of a plain-text body.
func firstPlainTextLine(body []byte) string {
	for _, line := range strings.Split(string(body), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "<") {
			return trimmed
		}
	}
	return ""
}

// firstSentence returns text up to and including the first period, or the
// whole text when no period exists.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, ". "); idx >= 0 {
		return text[:idx+1]
	}
	return text
}
