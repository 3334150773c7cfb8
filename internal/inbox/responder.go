package inbox

import (
	"context"
	"log"
	"time"

	"github.com/tollform/tollform/internal/mail"
	"github.com/tollform/tollform/internal/template"
)

// confirmSendTimeout bounds the outbound confirmation dispatch so a slow
// provider cannot stall a poll cycle.
const confirmSendTimeout = 15 * time.Second

// Responder formats and dispatches the confirmation back to the extracted
// reply-to address. Dispatch failures are logged, never propagated: the
// poll cycle is complete regardless of confirmation outcome.
type Responder struct {
	sender mail.Sender
	engine *template.Engine
}

func NewResponder(sender mail.Sender, engine *template.Engine) *Responder {
	return &Responder{sender: sender, engine: engine}
}

// Respond sends the confirmation for one extracted record and reports
// whether dispatch succeeded.
func (r *Responder) Respond(ctx context.Context, rec *Record) bool {
	data := template.ConfirmationData{
		Name:          rec.Name,
		TollTypeLabel: rec.TollType.Label(),
		NYAccount:     rec.NYAccount,
		NJViolation:   rec.NJViolation,
		Plate:         rec.Plate,
		ShowNY:        rec.TollType.MentionsNY() || rec.NYAccount != "",
		ShowNJ:        rec.TollType.MentionsNJ() || rec.NJViolation != "",
	}

	email, err := r.engine.RenderConfirmation(data)
	if err != nil {
		log.Printf("Error rendering confirmation for %s: %v", rec.Email, err)
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, confirmSendTimeout)
	defer cancel()

	result := r.sender.Send(sendCtx, mail.Message{
		To:      rec.Email,
		Subject: email.Subject,
		Text:    email.Text,
	})
	if !result.Success {
		log.Printf("Confirmation send to %s failed via %s: %v", rec.Email, r.sender.Name(), result.Error)
		return false
	}

	log.Printf("Confirmation sent to %s (%s)", rec.Email, rec.Name)
	return true
}
