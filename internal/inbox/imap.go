package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/tollform/tollform/internal/config"
)

// Error taxonomy for connection failures. Neither is process-fatal; the
// monitor retries on the next tick or manual trigger.
var (
	ErrAuthentication = errors.New("mailbox authentication failed")
	ErrConnectivity   = errors.New("mailbox connection failed")
)

// Mailbox is the remote-mailbox capability the monitor drives. Search
// returns parsed messages that are unread and dated on/after since.
type Mailbox interface {
	Connect(ctx context.Context) error
	Search(ctx context.Context, since time.Time) ([]Message, error)
	MarkSeen(uid uint32) error
	Close() error
}

// IMAPMailbox implements Mailbox over a single long-lived IMAP connection.
type IMAPMailbox struct {
	cfg    config.InboxConfig
	client *client.Client
}

func NewIMAPMailbox(cfg config.InboxConfig) *IMAPMailbox {
	return &IMAPMailbox{cfg: cfg}
}

func (m *IMAPMailbox) Connect(ctx context.Context) error {
	if m.cfg.Email == "" || m.cfg.Password == "" {
		return fmt.Errorf("%w: inbox email or password not configured", ErrAuthentication)
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Server, m.cfg.Port)
	log.Printf("Connecting to IMAP server %s...", addr)

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	log.Printf("Connected, logging in as %s...", m.cfg.Email)

	if err := c.Login(m.cfg.Email, m.cfg.Password); err != nil {
		c.Logout()
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	m.client = c
	log.Printf("Login successful")
	return nil
}

// Search finds unread messages dated on/after since and parses each into a
// Message. Individual parse failures are logged and skipped; they never fail
// the batch.
func (m *IMAPMailbox) Search(ctx context.Context, since time.Time) ([]Message, error) {
	if m.client == nil {
		return nil, fmt.Errorf("%w: not connected", ErrConnectivity)
	}

	mbox, err := m.client.Select(m.cfg.Folder, false)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", m.cfg.Folder, err)
	}

	if mbox.Messages == 0 {
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = since

	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search mailbox: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	// Peek so that fetching never flips \Seen; processed messages stay
	// unread unless mark_as_read is enabled.
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- m.client.UidFetch(seqSet, items, messages)
	}()

	var parsed []Message
	for msg := range messages {
		email, err := parseMessage(msg, section)
		if err != nil {
			log.Printf("Warning: failed to parse message: %v", err)
			continue
		}
		if email != nil {
			parsed = append(parsed, *email)
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return parsed, nil
}

// parseMessage converts an IMAP message into our Message value
func parseMessage(msg *imap.Message, section *imap.BodySectionName) (*Message, error) {
	if msg == nil || msg.Envelope == nil {
		return nil, nil
	}

	email := &Message{
		UID:        msg.Uid,
		Subject:    msg.Envelope.Subject,
		ReceivedAt: msg.Envelope.Date,
	}

	if len(msg.Envelope.From) > 0 {
		from := msg.Envelope.From[0]
		email.From = from.Address()
		email.FromName = from.PersonalName
	}

	r := msg.GetBody(section)
	if r == nil {
		return email, nil
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return email, nil // headers only on parse error
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, _ := io.ReadAll(p.Body)

			if strings.HasPrefix(ct, "text/plain") && email.Body == "" {
				email.Body = string(body)
			} else if strings.HasPrefix(ct, "text/html") && email.HTMLBody == "" {
				email.HTMLBody = string(body)
			}
		}
	}

	return email, nil
}

// MarkSeen stores the \Seen flag on a single message by UID.
func (m *IMAPMailbox) MarkSeen(uid uint32) error {
	if m.client == nil {
		return fmt.Errorf("%w: not connected", ErrConnectivity)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := m.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark message as read: %w", err)
	}
	return nil
}

func (m *IMAPMailbox) Close() error {
	if m.client != nil {
		err := m.client.Logout()
		m.client = nil
		return err
	}
	return nil
}
