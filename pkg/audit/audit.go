package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one access decision record. Entries are immutable once appended.
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	ClientIP    string    `json:"ip"`
	Path        string    `json:"path"`
	Method      string    `json:"method"`
	UserAgent   string    `json:"user_agent"`
	Success     bool      `json:"success"`
	Reason      string    `json:"reason,omitempty"`
	Principal   string    `json:"user"`
	Fingerprint string    `json:"fingerprint"`
	TrustScore  float64   `json:"trust_score"`
}

// Sink persists a batch of entries.
type Sink interface {
	Write(ctx context.Context, entries []Entry) error
}

// Log is an append-only buffer of access decisions. Append never performs
// I/O; once the buffer reaches the flush threshold a background flush hands
// the batch to the sink. A failed flush keeps the entries in the buffer so
// they are retried on the next trigger.
type Log struct {
	mu        sync.Mutex
	buf       []Entry
	threshold int
	sink      Sink
	flushing  bool

	// flushMu serializes flush execution; without it an explicit Flush
	// racing the threshold-triggered one would trim the buffer twice.
	flushMu sync.Mutex
}

const defaultFlushThreshold = 100

func NewLog(sink Sink, threshold int) *Log {
	if threshold <= 0 {
		threshold = defaultFlushThreshold
	}
	return &Log{sink: sink, threshold: threshold}
}

// Append records an entry. O(1), non-blocking; persistence failures never
// surface to the caller.
func (l *Log) Append(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	l.buf = append(l.buf, e)
	trigger := len(l.buf) >= l.threshold && !l.flushing
	if trigger {
		l.flushing = true
	}
	l.mu.Unlock()
	if trigger {
		go func() {
			defer l.clearFlushing()
			if err := l.Flush(context.Background()); err != nil {
				log.Printf("audit: flush failed, %d entries retained: %v", l.Len(), err)
			}
		}()
	}
}

func (l *Log) clearFlushing() {
	l.mu.Lock()
	l.flushing = false
	l.mu.Unlock()
}

// Flush persists the buffered entries and removes the persisted prefix.
// Entries appended while the sink write is in flight stay buffered. Only
// one flush runs at a time; a concurrent call waits its turn and then
// picks up whatever the previous one left behind.
func (l *Log) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	if len(l.buf) == 0 {
		l.mu.Unlock()
		return nil
	}
	batch := make([]Entry, len(l.buf))
	copy(batch, l.buf)
	l.mu.Unlock()

	if err := l.sink.Write(ctx, batch); err != nil {
		return err
	}

	l.mu.Lock()
	l.buf = l.buf[len(batch):]
	l.mu.Unlock()
	return nil
}

// Len reports the number of buffered, not yet persisted entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}
