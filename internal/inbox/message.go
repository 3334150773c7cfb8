package inbox

import "time"

// Message is one parsed inbound email. Immutable once built; the monitor
// owns it for the duration of a poll cycle and hands it to the pipeline by
// value.
type Message struct {
	UID        uint32 // IMAP UID, used for the optional \Seen store
	From       string
	FromName   string
	Subject    string
	ReceivedAt time.Time
	Body       string
	HTMLBody   string
}
