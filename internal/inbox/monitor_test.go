package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeMailbox struct {
	mu         sync.Mutex
	connectErr error
	searchFn   func(since time.Time) ([]Message, error)
	searches   int
	seen       []uint32
	closed     int
}

func (f *fakeMailbox) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeMailbox) Search(ctx context.Context, since time.Time) ([]Message, error) {
	f.mu.Lock()
	f.searches++
	fn := f.searchFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(since)
}

func (f *fakeMailbox) MarkSeen(uid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, uid)
	return nil
}

func (f *fakeMailbox) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeMailbox) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches
}

func noopHandler(ctx context.Context, msg Message) error { return nil }

func TestPollSingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	var enteredOnce sync.Once
	mb := &fakeMailbox{
		searchFn: func(since time.Time) ([]Message, error) {
			enteredOnce.Do(func() { close(entered) })
			<-release
			return nil, nil
		},
	}

	m := NewMonitor(mb, time.Minute, noopHandler)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Poll(context.Background()) }()

	<-entered

	// Second trigger while the first cycle is blocked inside Search must
	// be a no-op, not a concurrent cycle.
	if err := m.Poll(context.Background()); err != nil {
		t.Errorf("overlapping Poll() error = %v, want nil no-op", err)
	}
	if got := mb.searchCount(); got != 1 {
		t.Errorf("searches during overlap = %d, want 1", got)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first Poll() error = %v", err)
	}

	// After the cycle completes, polling works again.
	if err := m.Poll(context.Background()); err != nil {
		t.Errorf("Poll() after release error = %v", err)
	}
	if got := mb.searchCount(); got != 2 {
		t.Errorf("searches after release = %d, want 2", got)
	}
}

func TestPollAdvancesWatermarkAfterBatch(t *testing.T) {
	mb := &fakeMailbox{
		searchFn: func(since time.Time) ([]Message, error) {
			return []Message{{UID: 1, From: "a@example.com"}}, nil
		},
	}

	m := NewMonitor(mb, time.Minute, noopHandler)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	before := m.LastChecked()
	time.Sleep(5 * time.Millisecond)

	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !m.LastChecked().After(before) {
		t.Errorf("watermark did not advance after completed nonzero batch")
	}
}

func TestPollKeepsWatermarkOnZeroResults(t *testing.T) {
	mb := &fakeMailbox{}

	m := NewMonitor(mb, time.Minute, noopHandler)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	before := m.LastChecked()
	time.Sleep(5 * time.Millisecond)

	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !m.LastChecked().Equal(before) {
		t.Errorf("watermark moved on an empty cycle: %v -> %v", before, m.LastChecked())
	}
}

func TestPollKeepsWatermarkOnSearchError(t *testing.T) {
	mb := &fakeMailbox{
		searchFn: func(since time.Time) ([]Message, error) {
			return nil, fmt.Errorf("%w: connection reset", ErrConnectivity)
		},
	}

	m := NewMonitor(mb, time.Minute, noopHandler)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	before := m.LastChecked()
	time.Sleep(5 * time.Millisecond)

	if err := m.Poll(context.Background()); err == nil {
		t.Fatalf("Poll() = nil, want search error")
	}
	if !m.LastChecked().Equal(before) {
		t.Errorf("watermark moved on a failed cycle")
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %q after connectivity error, want disconnected", m.State())
	}
}

func TestPollContinuesPastHandlerErrors(t *testing.T) {
	mb := &fakeMailbox{
		searchFn: func(since time.Time) ([]Message, error) {
			return []Message{{UID: 1}, {UID: 2}, {UID: 3}}, nil
		},
	}

	var handled []uint32
	handler := func(ctx context.Context, msg Message) error {
		handled = append(handled, msg.UID)
		if msg.UID == 2 {
			return errors.New("boom")
		}
		return nil
	}

	m := NewMonitor(mb, time.Minute, handler)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	before := m.LastChecked()
	time.Sleep(5 * time.Millisecond)

	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v, want nil despite per-message failure", err)
	}
	if len(handled) != 3 {
		t.Errorf("handled %d messages, want 3", len(handled))
	}
	if !m.LastChecked().After(before) {
		t.Errorf("watermark should advance when the batch completed")
	}
}

func TestPollMarkSeen(t *testing.T) {
	mb := &fakeMailbox{
		searchFn: func(since time.Time) ([]Message, error) {
			return []Message{{UID: 7}, {UID: 8}}, nil
		},
	}

	m := NewMonitor(mb, time.Minute, noopHandler)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Default: messages stay unread.
	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(mb.seen) != 0 {
		t.Errorf("MarkSeen called with markAsRead off: %v", mb.seen)
	}

	m.SetMarkAsRead(true)
	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(mb.seen) != 2 {
		t.Errorf("MarkSeen calls = %d, want 2", len(mb.seen))
	}
}

func TestPollReconnectsWhenDisconnected(t *testing.T) {
	mb := &fakeMailbox{}

	m := NewMonitor(mb, time.Minute, noopHandler)
	// No Connect call: Poll must establish the session itself.
	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if m.State() != StateAuthenticated {
		t.Errorf("State() = %q, want authenticated", m.State())
	}
}

func TestConnectAuthenticationError(t *testing.T) {
	mb := &fakeMailbox{
		connectErr: fmt.Errorf("%w: bad credentials", ErrAuthentication),
	}

	m := NewMonitor(mb, time.Minute, noopHandler)
	err := m.Connect(context.Background())
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Connect() error = %v, want ErrAuthentication", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %q, want disconnected", m.State())
	}
}

func TestStopIdempotent(t *testing.T) {
	mb := &fakeMailbox{}

	m := NewMonitor(mb, time.Minute, noopHandler)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	m.Stop()
	m.Stop()
	m.Stop()

	if mb.closed != 1 {
		t.Errorf("Close calls = %d, want 1", mb.closed)
	}
	if m.State() != StateDisconnected {
		t.Errorf("State() = %q, want disconnected", m.State())
	}
}

func TestStartStopsOnStop(t *testing.T) {
	mb := &fakeMailbox{}

	m := NewMonitor(mb, 10*time.Millisecond, noopHandler)

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	m.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v, want nil after Stop", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop")
	}
}
