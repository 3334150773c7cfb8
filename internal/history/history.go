package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Submission is one form submission and the outcome of forwarding it to the
// operator address.
type Submission struct {
	ID          int64
	Name        string
	Email       string
	TollType    string
	NYAccount   string
	NJViolation string
	Plate       string
	Status      Status
	MessageID   string
	Error       string
	CreatedAt   time.Time
}

// InboundMessage is one message the poll pipeline looked at, whatever came
// of it. This is an audit trail only: nothing reads it back to retry.
type InboundMessage struct {
	ID               int64
	UID              int64
	FromAddr         string
	Subject          string
	Relevant         bool
	Extracted        bool
	ConfirmationSent bool
	SkipReason       string
	ReceivedAt       time.Time
	ProcessedAt      time.Time
}

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		toll_type TEXT,
		ny_account TEXT,
		nj_violation TEXT,
		plate TEXT,
		status TEXT NOT NULL,
		message_id TEXT,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS inbound_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid INTEGER,
		from_addr TEXT,
		subject TEXT,
		relevant INTEGER NOT NULL DEFAULT 0,
		extracted INTEGER NOT NULL DEFAULT 0,
		confirmation_sent INTEGER NOT NULL DEFAULT 0,
		skip_reason TEXT,
		received_at DATETIME,
		processed_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions(created_at);
	CREATE INDEX IF NOT EXISTS idx_inbound_processed ON inbound_messages(processed_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddSubmission records a form submission; the ID is filled in on success.
func (s *Store) AddSubmission(sub *Submission) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO submissions (name, email, toll_type, ny_account, nj_violation, plate, status, message_id, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.Name, sub.Email, sub.TollType, sub.NYAccount, sub.NJViolation, sub.Plate,
		string(sub.Status), sub.MessageID, sub.Error, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	sub.ID, _ = res.LastInsertId()
	return nil
}

// AddInbound records the outcome of one polled message.
func (s *Store) AddInbound(msg *InboundMessage) error {
	if msg.ProcessedAt.IsZero() {
		msg.ProcessedAt = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO inbound_messages (uid, from_addr, subject, relevant, extracted, confirmation_sent, skip_reason, received_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.UID, msg.FromAddr, msg.Subject, boolToInt(msg.Relevant), boolToInt(msg.Extracted),
		boolToInt(msg.ConfirmationSent), msg.SkipReason, msg.ReceivedAt, msg.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to insert inbound message: %w", err)
	}
	msg.ID, _ = res.LastInsertId()
	return nil
}

// RecentSubmissions returns the newest submissions first.
func (s *Store) RecentSubmissions(limit int) ([]Submission, error) {
	rows, err := s.db.Query(`
		SELECT id, name, email, toll_type, ny_account, nj_violation, plate, status, message_id, error, created_at
		FROM submissions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var sub Submission
		var status string
		var messageID, errStr sql.NullString
		var createdAt sql.NullTime
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Email, &sub.TollType, &sub.NYAccount,
			&sub.NJViolation, &sub.Plate, &status, &messageID, &errStr, &createdAt); err != nil {
			return nil, err
		}
		sub.Status = Status(status)
		sub.MessageID = messageID.String
		sub.Error = errStr.String
		sub.CreatedAt = createdAt.Time
		out = append(out, sub)
	}
	return out, rows.Err()
}

// RecentInbound returns the newest processed messages first.
func (s *Store) RecentInbound(limit int) ([]InboundMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, uid, from_addr, subject, relevant, extracted, confirmation_sent, skip_reason, received_at, processed_at
		FROM inbound_messages ORDER BY processed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query inbound messages: %w", err)
	}
	defer rows.Close()

	var out []InboundMessage
	for rows.Next() {
		var msg InboundMessage
		var relevant, extracted, confirmationSent int
		var skipReason sql.NullString
		var receivedAt, processedAt sql.NullTime
		if err := rows.Scan(&msg.ID, &msg.UID, &msg.FromAddr, &msg.Subject, &relevant,
			&extracted, &confirmationSent, &skipReason, &receivedAt, &processedAt); err != nil {
			return nil, err
		}
		msg.Relevant = relevant != 0
		msg.Extracted = extracted != 0
		msg.ConfirmationSent = confirmationSent != 0
		msg.SkipReason = skipReason.String
		msg.ReceivedAt = receivedAt.Time
		msg.ProcessedAt = processedAt.Time
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Stats summarizes the audit log for status output.
type Stats struct {
	Submissions       int
	SubmissionsFailed int
	InboundSeen       int
	InboundRelevant   int
	ConfirmationsSent int
}

func (s *Store) Stats() (Stats, error) {
	var st Stats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM submissions`).Scan(&st.Submissions); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM submissions WHERE status = ?`, string(StatusFailed)).Scan(&st.SubmissionsFailed); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM inbound_messages`).Scan(&st.InboundSeen); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM inbound_messages WHERE relevant = 1`).Scan(&st.InboundRelevant); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM inbound_messages WHERE confirmation_sent = 1`).Scan(&st.ConfirmationsSent); err != nil {
		return st, err
	}
	return st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
