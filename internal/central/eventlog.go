package central

import (
	"fmt"
	"strings"
	"time"
)

// EntryKind separates discovery milestones from raw value updates.
type EntryKind int

const (
	EntryMilestone EntryKind = iota
	EntryValue
)

func (k EntryKind) String() string {
	if k == EntryValue {
		return "value"
	}
	return "milestone"
}

func (k EntryKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// LogEntry is one line of the event log.
type LogEntry struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Peer    PeerID    `json:"peer"`
	Kind    EntryKind `json:"kind"`
	Message string    `json:"message"`
}

// EventLog keeps entries in chronological order, oldest first, for milestones
// and value updates alike. With maxEntries > 0 the oldest entries are dropped
// once the cap is reached.
//
// EventLog is not safe for concurrent use; it is owned by the event loop.
type EventLog struct {
	entries    []LogEntry
	seq        uint64
	maxEntries int
	now        func() time.Time
}

// NewEventLog creates an event log. maxEntries <= 0 means unbounded.
func NewEventLog(maxEntries int) *EventLog {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &EventLog{maxEntries: maxEntries, now: time.Now}
}

// Record appends a new entry and returns it.
func (l *EventLog) Record(peer PeerID, kind EntryKind, message string) LogEntry {
	l.seq++
	entry := LogEntry{
		Seq:     l.seq,
		Time:    l.now(),
		Peer:    peer,
		Kind:    kind,
		Message: message,
	}
	l.entries = append(l.entries, entry)

	if l.maxEntries > 0 && len(l.entries) > l.maxEntries {
		drop := len(l.entries) - l.maxEntries
		// Copy down so the backing array does not grow without bound.
		n := copy(l.entries, l.entries[drop:])
		l.entries = l.entries[:n]
	}
	return entry
}

// Snapshot returns a copy of the entries, oldest first.
func (l *EventLog) Snapshot() []LogEntry {
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of retained entries.
func (l *EventLog) Len() int {
	return len(l.entries)
}

// Message formats

const (
	msgConnected    = "connected"
	msgDisconnected = "disconnected"
)

func serviceMessage(uuid string) string {
	return "Service: " + uuid
}

func descriptorsMessage(uuids []string) string {
	return "Descriptors: [" + strings.Join(uuids, ", ") + "]"
}

func valueMessage(value []byte) string {
	return fmt.Sprintf("Sample value updated to: <0x%x>", value)
}
