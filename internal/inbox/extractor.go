package inbox

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/tollform/tollform/internal/form"
)

// ErrIncomplete signals that extraction did not yield the mandatory fields
// (requester name and reply-to email); the message is skipped and no
// confirmation is sent.
var ErrIncomplete = errors.New("extraction incomplete: requester name and email are required")

// Record holds the fields pulled from one inbound message. Optional fields
// are empty strings; formatting layers substitute their own placeholders.
type Record struct {
	Name        string
	Email       string
	TollType    form.TollType
	NYAccount   string
	NJViolation string
	Plate       string
	ExtractedAt time.Time
}

// fieldPattern pairs a plain-text pattern with an HTML fallback. Text
// captures stop at line breaks; HTML captures stop at the next tag, so a
// value never spans a markup boundary. Text wins when both match.
type fieldPattern struct {
	text *regexp.Regexp
	html *regexp.Regexp
}

// htmlLabelTail lets the capture start after the markup that typically
// closes a bolded label, e.g. "<strong>Name:</strong> John".
const htmlLabelTail = `\s*(?:</strong>|</b>)?\s*`

var (
	namePattern = fieldPattern{
		text: regexp.MustCompile(`(?i)\bname\s*:[ \t]*([^\r\n]+)`),
		html: regexp.MustCompile(`(?i)\bname\s*:` + htmlLabelTail + `([^<\r\n]+)`),
	}
	emailPattern = fieldPattern{
		text: regexp.MustCompile(`(?i)\bemail(?:\s+address)?(?:\s*\([^)\r\n]*\))?\s*:[ \t]*([^\r\n]+)`),
		html: regexp.MustCompile(`(?i)\bemail(?:\s+address)?(?:\s*\([^)<\r\n]*\))?\s*:` + htmlLabelTail + `(?:<a[^>]*>)?\s*([^<\r\n]+)`),
	}
	tollTypePattern = fieldPattern{
		text: regexp.MustCompile(`(?i)\btoll\s*(?:program\s*)?type\s*:[ \t]*([^\r\n]+)`),
		html: regexp.MustCompile(`(?i)\btoll\s*(?:program\s*)?type\s*:` + htmlLabelTail + `([^<\r\n]+)`),
	}
	nyAccountPattern = fieldPattern{
		text: regexp.MustCompile(`(?i)\bny\s*(?:toll\s*)?(?:bill\s*)?account(?:\s*(?:number|#))?\s*:[ \t]*([^\r\n]+)`),
		html: regexp.MustCompile(`(?i)\bny\s*(?:toll\s*)?(?:bill\s*)?account(?:\s*(?:number|#))?\s*:` + htmlLabelTail + `([^<\r\n]+)`),
	}
	njViolationPattern = fieldPattern{
		text: regexp.MustCompile(`(?i)\bnj\s*(?:toll\s*)?violation(?:\s*(?:number|#))?\s*:[ \t]*([^\r\n]+)`),
		html: regexp.MustCompile(`(?i)\bnj\s*(?:toll\s*)?violation(?:\s*(?:number|#))?\s*:` + htmlLabelTail + `([^<\r\n]+)`),
	}
	platePattern = fieldPattern{
		text: regexp.MustCompile(`(?i)\b(?:license\s*)?plate(?:\s*(?:number|#))?\s*:[ \t]*([^\r\n]+)`),
		html: regexp.MustCompile(`(?i)\b(?:license\s*)?plate(?:\s*(?:number|#))?\s*:` + htmlLabelTail + `([^<\r\n]+)`),
	}
)

// extractField resolves one field independently of all others.
func extractField(p fieldPattern, text, html string) string {
	if text != "" {
		if m := p.text.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	if html != "" {
		if m := p.html.FindStringSubmatch(html); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// Extract pulls structured fields from the message bodies. Every field is
// attempted; the record is returned only when both name and email came out
// non-empty, otherwise ErrIncomplete.
func Extract(text, html string) (*Record, error) {
	rec := &Record{
		Name:        extractField(namePattern, text, html),
		Email:       extractField(emailPattern, text, html),
		NYAccount:   extractField(nyAccountPattern, text, html),
		NJViolation: extractField(njViolationPattern, text, html),
		Plate:       extractField(platePattern, text, html),
		ExtractedAt: time.Now(),
	}
	rec.TollType = form.ParseTollType(extractField(tollTypePattern, text, html))

	if rec.Name == "" || rec.Email == "" {
		return nil, ErrIncomplete
	}
	return rec, nil
}
