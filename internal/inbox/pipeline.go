package inbox

import (
	"context"
	"errors"
	"log"
)

// Outcome summarizes what the pipeline did with one message. It feeds the
// audit log; nothing reads it back for retry decisions.
type Outcome struct {
	Message          Message
	Relevant         bool
	Record           *Record
	ConfirmationSent bool
	SkipReason       string
}

// Pipeline runs the per-message sequence: relevance check, field
// extraction, confirmation dispatch. Irrelevant and incomplete messages are
// normal outcomes, not errors; they are skipped silently and permanently.
type Pipeline struct {
	responder *Responder
	onOutcome func(Outcome) // optional audit hook
}

func NewPipeline(responder *Responder, onOutcome func(Outcome)) *Pipeline {
	return &Pipeline{responder: responder, onOutcome: onOutcome}
}

// Process handles a single inbound message. A non-nil return marks a
// per-message failure: logged by the monitor, never fatal to the batch.
func (p *Pipeline) Process(ctx context.Context, msg Message) error {
	outcome := Outcome{Message: msg}
	defer func() {
		if p.onOutcome != nil {
			p.onOutcome(outcome)
		}
	}()

	if !IsRelevant(msg.Body, msg.HTMLBody) {
		outcome.SkipReason = "no toll-related keywords"
		log.Printf("Message from %s (%q) does not contain toll-related keywords", msg.From, msg.Subject)
		return nil
	}

	log.Printf("Message from %s (%q) contains toll-related content, extracting...", msg.From, msg.Subject)

	rec, err := Extract(msg.Body, msg.HTMLBody)
	if err != nil {
		outcome.Relevant = true
		if errors.Is(err, ErrIncomplete) {
			outcome.SkipReason = "insufficient data: name or email missing"
			preview := BodyPreview(msg)
			if len(preview) > 120 {
				preview = preview[:120] + "..."
			}
			log.Printf("Skipping message from %s: %v (content: %q)", msg.From, err, preview)
			return nil
		}
		return err
	}

	outcome.Relevant = true
	outcome.Record = rec
	outcome.ConfirmationSent = p.responder.Respond(ctx, rec)
	return nil
}
