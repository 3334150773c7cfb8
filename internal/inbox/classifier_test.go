package inbox

import (
	"strings"
	"testing"
)

func TestIsRelevant(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		html     string
		expected bool
	}{
		{
			name:     "toll keyword in text",
			text:     "I have a question about my toll charges",
			expected: true,
		},
		{
			name:     "violation keyword",
			text:     "Regarding violation number V12345",
			expected: true,
		},
		{
			name:     "e-zpass with hyphen",
			text:     "My E-ZPass statement arrived",
			expected: true,
		},
		{
			name:     "ezpass without hyphen",
			text:     "my EZPass account",
			expected: true,
		},
		{
			name:     "new york spelled out",
			text:     "driving through New York last week",
			expected: true,
		},
		{
			name:     "keyword only in html",
			text:     "see below",
			html:     "<p>Your <b>plate</b> was photographed</p>",
			expected: true,
		},
		{
			name:     "case insensitive",
			text:     "TOLL NOTICE",
			expected: true,
		},
		{
			name:     "substring match inside larger word",
			text:     "I work as an accountant",
			expected: true,
		},
		{
			name:     "no keywords",
			text:     "Lunch on Friday?",
			expected: false,
		},
		{
			name:     "empty bodies",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRelevant(tt.text, tt.html); got != tt.expected {
				t.Errorf("IsRelevant(%q, %q) = %v, want %v", tt.text, tt.html, got, tt.expected)
			}
		})
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		contains string
		excludes string
	}{
		{
			name:     "strips tags",
			html:     "<p>Hello <b>world</b></p>",
			contains: "Hello world",
		},
		{
			name:     "drops script content",
			html:     "<script>alert('x')</script><p>visible</p>",
			contains: "visible",
			excludes: "alert",
		},
		{
			name:     "drops style content",
			html:     "<style>body{color:red}</style><div>text</div>",
			contains: "text",
			excludes: "color:red",
		},
		{
			name:     "collapses whitespace",
			html:     "<div>  a  \n\n  b  </div>",
			contains: "a b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HTMLToText(tt.html)
			if tt.contains != "" && !strings.Contains(got, tt.contains) {
				t.Errorf("HTMLToText(%q) = %q, want it to contain %q", tt.html, got, tt.contains)
			}
			if tt.excludes != "" && strings.Contains(got, tt.excludes) {
				t.Errorf("HTMLToText(%q) = %q, want it to exclude %q", tt.html, got, tt.excludes)
			}
		})
	}
}
