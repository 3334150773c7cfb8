package inbox

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// tollKeywords marks a message as worth extracting. Plain substring search,
// no word boundaries: a missed relevant message costs more than a wasted
// extraction attempt.
var tollKeywords = []string{
	"toll",
	"violation",
	"account",
	"plate",
	"e-zpass",
	"ezpass",
	"ny",
	"nj",
	"new york",
	"new jersey",
}

// IsRelevant reports whether the concatenated lower-cased text and HTML
// content contains any toll keyword.
func IsRelevant(text, html string) bool {
	content := strings.ToLower(text + html)
	for _, kw := range tollKeywords {
		if strings.Contains(content, kw) {
			return true
		}
	}
	return false
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// HTMLToText converts an HTML body to readable plain text, dropping script
// and style content. Used when a message carries no text part.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// Fallback: strip tags with a blunt regex
		stripped := regexp.MustCompile(`<[^>]+>`).ReplaceAllString(html, " ")
		return strings.TrimSpace(whitespaceRe.ReplaceAllString(stripped, " "))
	}
	doc.Find("script, style").Remove()
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(doc.Text(), " "))
}

// BodyPreview returns plain text suitable for logs and history records,
// preferring the text body and falling back to stripped HTML.
func BodyPreview(msg Message) string {
	if strings.TrimSpace(msg.Body) != "" {
		return strings.TrimSpace(msg.Body)
	}
	return HTMLToText(msg.HTMLBody)
}
