package form

import (
	"fmt"
	"regexp"
	"strings"
)

// TollType selects which toll programs a submission covers and therefore
// which fields are mandatory.
type TollType string

const (
	TollNY          TollType = "NY"
	TollNJ          TollType = "NJ"
	TollBoth        TollType = "BOTH"
	TollUnspecified TollType = ""
)

// ParseTollType normalizes free-form program-type text. Mentions of both
// regions count as BOTH; anything unrecognized stays unspecified.
func ParseTollType(s string) TollType {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "ny", "new york", "ny only":
		return TollNY
	case "nj", "new jersey", "nj only":
		return TollNJ
	case "both", "ny and nj", "nj and ny":
		return TollBoth
	}
	hasNY := strings.Contains(v, "ny") || strings.Contains(v, "new york")
	hasNJ := strings.Contains(v, "nj") || strings.Contains(v, "new jersey")
	switch {
	case hasNY && hasNJ:
		return TollBoth
	case hasNY:
		return TollNY
	case hasNJ:
		return TollNJ
	}
	return TollUnspecified
}

// MentionsNY reports whether the type covers the NY toll program.
func (t TollType) MentionsNY() bool { return t == TollNY || t == TollBoth }

// MentionsNJ reports whether the type covers the NJ toll program.
func (t TollType) MentionsNJ() bool { return t == TollNJ || t == TollBoth }

func (t TollType) String() string {
	switch t {
	case TollNY:
		return "NY"
	case TollNJ:
		return "NJ"
	case TollBoth:
		return "BOTH"
	}
	return ""
}

// Label is the human-readable form used in rendered messages.
func (t TollType) Label() string {
	switch t {
	case TollNY:
		return "NY tolls only"
	case TollNJ:
		return "NJ tolls only"
	case TollBoth:
		return "Both NY and NJ tolls"
	}
	return "Not specified"
}

// emailShape is the same permissive local@domain.tld check the form client
// applies; stricter than nothing, looser than full RFC 5322.
var emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmailShape reports whether the address looks like local@domain.tld.
func ValidEmailShape(email string) bool {
	return emailShape.MatchString(email)
}

// Submission is one toll-information form post.
type Submission struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	TollType          string `json:"tollType"`
	NYTollAccount     string `json:"nyTollAccount,omitempty"`
	PlateNumber       string `json:"plateNumber,omitempty"`
	NJViolationNumber string `json:"njViolationNumber,omitempty"`
}

// Normalize trims every field in place.
func (s *Submission) Normalize() {
	s.Name = strings.TrimSpace(s.Name)
	s.Email = strings.TrimSpace(s.Email)
	s.TollType = strings.TrimSpace(s.TollType)
	s.NYTollAccount = strings.TrimSpace(s.NYTollAccount)
	s.PlateNumber = strings.TrimSpace(s.PlateNumber)
	s.NJViolationNumber = strings.TrimSpace(s.NJViolationNumber)
}

// Validate applies the per-type required-field rules. The returned error
// text is user-facing and ends up in 400 responses verbatim.
func (s *Submission) Validate() error {
	s.Normalize()

	if s.Name == "" || s.Email == "" {
		return fmt.Errorf("missing required fields: name and email address are required")
	}
	if !ValidEmailShape(s.Email) {
		return fmt.Errorf("invalid email address format")
	}

	switch TollType(strings.ToUpper(s.TollType)) {
	case TollNY:
		if s.NYTollAccount == "" || s.PlateNumber == "" {
			return fmt.Errorf("NY toll account number and plate number are required for NY tolls")
		}
	case TollNJ:
		if s.NJViolationNumber == "" || s.PlateNumber == "" {
			return fmt.Errorf("NJ violation number and plate number are required for NJ tolls")
		}
	case TollBoth:
		if s.NYTollAccount == "" || s.NJViolationNumber == "" || s.PlateNumber == "" {
			return fmt.Errorf("NY toll account number, NJ violation number, and plate number are required for both tolls")
		}
	default:
		return fmt.Errorf("please select which tolls you want to check (NY, NJ, or BOTH)")
	}

	return nil
}

// Type returns the parsed toll-program type of the submission.
func (s *Submission) Type() TollType {
	return TollType(strings.ToUpper(strings.TrimSpace(s.TollType)))
}
