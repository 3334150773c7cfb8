package template

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"

	"github.com/tollform/tollform/internal/form"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

const notProvided = "Not provided"

// Email is a rendered message ready to hand to a mail sender.
type Email struct {
	Subject string
	Text    string
	HTML    string
}

// operatorData feeds the operator-notification templates.
type operatorData struct {
	Name              string
	Email             string
	TollTypeLabel     string
	NYTollAccount     string
	NJViolationNumber string
	PlateNumber       string
	ShowNY            bool
	ShowNJ            bool
	SubmittedAt       string
}

// ConfirmationData feeds the submitter-confirmation template. ShowNY/ShowNJ
// gate whole lines: a hidden section is omitted, not blanked.
type ConfirmationData struct {
	Name          string
	TollTypeLabel string
	NYAccount     string
	NJViolation   string
	Plate         string
	ShowNY        bool
	ShowNJ        bool
}

// Engine renders the outbound message bodies from embedded templates.
type Engine struct {
	text map[string]*template.Template
	html map[string]*htmltemplate.Template
}

func NewEngine() (*Engine, error) {
	e := &Engine{
		text: make(map[string]*template.Template),
		html: make(map[string]*htmltemplate.Template),
	}

	for _, name := range []string{"operator_text", "confirmation_text"} {
		content, err := embeddedTemplates.ReadFile("templates/" + name + ".tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded template %s: %w", name, err)
		}
		tmpl, err := template.New(name).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		e.text[name] = tmpl
	}

	for _, name := range []string{"operator_html"} {
		content, err := embeddedTemplates.ReadFile("templates/" + name + ".tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded template %s: %w", name, err)
		}
		tmpl, err := htmltemplate.New(name).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		e.html[name] = tmpl
	}

	return e, nil
}

// RenderOperator builds the notification forwarded to the operator address
// for one form submission. Field lines follow the toll-program type.
func (e *Engine) RenderOperator(sub form.Submission) (*Email, error) {
	t := sub.Type()
	data := operatorData{
		Name:              sub.Name,
		Email:             sub.Email,
		TollTypeLabel:     t.Label(),
		NYTollAccount:     orFallback(sub.NYTollAccount),
		NJViolationNumber: orFallback(sub.NJViolationNumber),
		PlateNumber:       orFallback(sub.PlateNumber),
		ShowNY:            t.MentionsNY() || sub.NYTollAccount != "",
		ShowNJ:            t.MentionsNJ() || sub.NJViolationNumber != "",
		SubmittedAt:       time.Now().Format("January 2, 2006 3:04 PM MST"),
	}

	text, err := e.renderText("operator_text", data)
	if err != nil {
		return nil, err
	}
	html, err := e.renderHTML("operator_html", data)
	if err != nil {
		return nil, err
	}

	return &Email{
		Subject: fmt.Sprintf("New Toll Information Submission - %s", sub.Name),
		Text:    text,
		HTML:    html,
	}, nil
}

// RenderConfirmation builds the message sent back to a requester whose
// inbound email yielded a usable record.
func (e *Engine) RenderConfirmation(data ConfirmationData) (*Email, error) {
	if data.TollTypeLabel == "" {
		data.TollTypeLabel = "Not specified"
	}
	if data.ShowNY && data.NYAccount == "" {
		data.NYAccount = notProvided
	}
	if data.ShowNJ && data.NJViolation == "" {
		data.NJViolation = notProvided
	}
	if data.Plate == "" {
		data.Plate = notProvided
	}

	text, err := e.renderText("confirmation_text", data)
	if err != nil {
		return nil, err
	}

	return &Email{
		Subject: "Toll Information Request Received",
		Text:    text,
	}, nil
}

func (e *Engine) renderText(name string, data interface{}) (string, error) {
	tmpl, ok := e.text[name]
	if !ok {
		return "", fmt.Errorf("unknown template: %s", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (e *Engine) renderHTML(name string, data interface{}) (string, error) {
	tmpl, ok := e.html[name]
	if !ok {
		return "", fmt.Errorf("unknown template: %s", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}

func orFallback(v string) string {
	if v == "" {
		return notProvided
	}
	return v
}
