package inbox

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// State is the monitor's connection/session status.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateAuthenticated State = "authenticated"
	StatePolling       State = "polling"
	StateError         State = "error"
)

// Handler is the per-message pipeline. A returned error is a per-message
// failure: logged, and the rest of the batch still runs.
type Handler func(ctx context.Context, msg Message) error

// Monitor drives periodic, non-overlapping scans of a remote mailbox.
//
// At most one poll cycle executes at a time: overlapping timer ticks and
// manual triggers are skipped while a cycle is in progress. The watermark
// (last successful check time) advances only after a cycle finishes its
// whole batch; cycle-level search errors leave it untouched so those
// messages are seen again on the next tick.
type Monitor struct {
	mailbox    Mailbox
	handler    Handler
	interval   time.Duration
	markAsRead bool

	mu          sync.Mutex
	state       State
	inProgress  bool
	lastChecked time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewMonitor(mailbox Mailbox, interval time.Duration, handler Handler) *Monitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Monitor{
		mailbox:     mailbox,
		handler:     handler,
		interval:    interval,
		state:       StateDisconnected,
		lastChecked: time.Now(),
		stopCh:      make(chan struct{}),
	}
}

// SetMarkAsRead enables storing \Seen after a message is processed. Off by
// default: the pipeline historically leaves messages unread.
func (m *Monitor) SetMarkAsRead(v bool) { m.markAsRead = v }

// State returns the current session status.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastChecked returns the current watermark.
func (m *Monitor) LastChecked() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChecked
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Connect establishes the mailbox session. It does not arm the timer; use
// Start for the full connect-poll-loop sequence.
func (m *Monitor) Connect(ctx context.Context) error {
	m.setState(StateConnecting)

	if err := m.mailbox.Connect(ctx); err != nil {
		m.setState(StateDisconnected)
		if errors.Is(err, ErrAuthentication) {
			log.Printf("IMAP authentication error: %v", err)
			log.Printf("Make sure you are using an app password, not your regular password")
		} else {
			log.Printf("IMAP connection error: %v", err)
		}
		return err
	}

	m.setState(StateAuthenticated)
	return nil
}

// Start connects, runs one immediate poll cycle, and arms the recurring
// timer. It blocks until Stop is called or the context is cancelled, so
// callers usually run it in its own goroutine.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.Connect(ctx); err != nil {
		return err
	}

	if err := m.Poll(ctx); err != nil {
		log.Printf("Initial email check failed: %v", err)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Printf("Email monitor started (checking every %s)", m.interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopCh:
			return nil
		case <-ticker.C:
			if err := m.Poll(ctx); err != nil {
				log.Printf("Email check failed: %v", err)
			}
		}
	}
}

// Poll runs one cycle: search for unread messages since the watermark and
// run each through the handler. A cycle already in progress makes this a
// logged no-op. When the session is down it attempts to reconnect first.
func (m *Monitor) Poll(ctx context.Context) error {
	m.mu.Lock()
	if m.inProgress {
		m.mu.Unlock()
		log.Printf("Email check already in progress, skipping...")
		return nil
	}
	m.inProgress = true
	authenticated := m.state == StateAuthenticated || m.state == StatePolling
	since := m.lastChecked
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inProgress = false
		m.mu.Unlock()
	}()

	if !authenticated {
		log.Printf("IMAP not connected, attempting to connect...")
		if err := m.Connect(ctx); err != nil {
			return err
		}
	}

	m.setState(StatePolling)
	log.Printf("Checking for new emails since %s...", since.Format(time.RFC1123))

	messages, err := m.mailbox.Search(ctx, since)
	if err != nil {
		// Watermark stays put: these messages get another chance on
		// the next trigger.
		if errors.Is(err, ErrConnectivity) {
			m.setState(StateDisconnected)
		} else {
			m.setState(StateAuthenticated)
		}
		return err
	}

	if len(messages) == 0 {
		log.Printf("No new emails found")
		m.setState(StateAuthenticated)
		return nil
	}

	log.Printf("Found %d new email(s)", len(messages))

	for _, msg := range messages {
		if err := m.handler(ctx, msg); err != nil {
			log.Printf("Error processing email from %s (%q): %v", msg.From, msg.Subject, err)
			continue
		}
		if m.markAsRead {
			if err := m.mailbox.MarkSeen(msg.UID); err != nil {
				log.Printf("Error marking email as read: %v", err)
			}
		}
	}

	m.mu.Lock()
	m.lastChecked = time.Now()
	m.state = StateAuthenticated
	m.mu.Unlock()

	log.Printf("Finished processing new emails")
	return nil
}

// CheckNow is the manual trigger; the single-flight rule applies as for a
// timer tick.
func (m *Monitor) CheckNow(ctx context.Context) error {
	log.Printf("Manual email check triggered")
	return m.Poll(ctx)
}

// Stop cancels the recurring timer and closes the session. Idempotent. An
// in-flight poll cycle is allowed to run to completion; the next tick
// simply never fires.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if err := m.mailbox.Close(); err != nil {
			log.Printf("Error closing mailbox session: %v", err)
		}
		m.setState(StateDisconnected)
		log.Printf("Email monitor stopped")
	})
}
