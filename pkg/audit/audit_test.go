package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	batches [][]Entry
	fail    bool
}

func (s *captureSink) Write(ctx context.Context, entries []Entry) error {
	if s.fail {
		return errors.New("sink unavailable")
	}
	batch := make([]Entry, len(entries))
	copy(batch, entries)
	s.batches = append(s.batches, batch)
	return nil
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	sink := &captureSink{}
	l := NewLog(sink, 10)
	l.Append(Entry{Path: "/admin", Method: "GET"})
	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	e := sink.batches[0][0]
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("expected generated id and timestamp, got %+v", e)
	}
}

func TestThresholdTriggersFlush(t *testing.T) {
	sink := &captureSink{}
	l := NewLog(sink, 3)
	for i := 0; i < 3; i++ {
		l.Append(Entry{Path: "/p", Method: "GET"})
	}
	deadline := time.Now().Add(2 * time.Second)
	for l.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected automatic flush, buffer still has %d entries", l.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(sink.batches) != 1 || len(sink.batches[0]) != 3 {
		t.Fatalf("unexpected batches: %+v", sink.batches)
	}
}

func TestFailedFlushRetainsBuffer(t *testing.T) {
	sink := &captureSink{fail: true}
	l := NewLog(sink, 10)
	l.Append(Entry{Path: "/a"})
	l.Append(Entry{Path: "/b"})
	if err := l.Flush(context.Background()); err == nil {
		t.Fatalf("expected flush error")
	}
	if l.Len() != 2 {
		t.Fatalf("failed flush must not discard entries, got %d buffered", l.Len())
	}
	// The same entries are retried once the sink recovers.
	sink.fail = false
	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if l.Len() != 0 || len(sink.batches[0]) != 2 {
		t.Fatalf("expected retried batch of 2, got %+v", sink.batches)
	}
}

type blockingSink struct {
	mu      sync.Mutex
	entries []Entry
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSink) Write(ctx context.Context, entries []Entry) error {
	s.entered <- struct{}{}
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func TestExplicitFlushSerializedWithThresholdFlush(t *testing.T) {
	sink := &blockingSink{entered: make(chan struct{}, 2), release: make(chan struct{})}
	l := NewLog(sink, 2)

	l.Append(Entry{Path: "/a"})
	l.Append(Entry{Path: "/b"})
	// The threshold flush is now inside the sink, holding a batch of 2.
	<-sink.entered

	l.Append(Entry{Path: "/c"})
	l.Append(Entry{Path: "/d"})

	done := make(chan error, 1)
	go func() { done <- l.Flush(context.Background()) }()

	// Let the threshold batch land first, then the explicit one.
	sink.release <- struct{}{}
	<-sink.entered
	sink.release <- struct{}{}
	if err := <-done; err != nil {
		t.Fatalf("explicit flush: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for l.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("buffer not drained, %d entries left", l.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.entries) != 4 {
		t.Fatalf("expected 4 persisted entries, got %d", len(sink.entries))
	}
	seen := make(map[string]bool)
	for _, e := range sink.entries {
		if seen[e.ID] {
			t.Fatalf("entry %s persisted twice", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestFileSinkWritesTimestampedFile(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(filepath.Join(dir, "ztna_logs"))
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	entries := []Entry{{ID: "1", Timestamp: time.Now().UTC(), Path: "/admin", Method: "GET", Success: false, Reason: "Unauthorized access attempt"}}
	if err := sink.Write(context.Background(), entries); err != nil {
		t.Fatalf("write: %v", err)
	}
	files, err := os.ReadDir(sink.Dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(files) != 1 || !strings.HasPrefix(files[0].Name(), "ztna_access_") || !strings.HasSuffix(files[0].Name(), ".json") {
		t.Fatalf("unexpected files: %+v", files)
	}
	data, err := os.ReadFile(filepath.Join(sink.Dir, files[0].Name()))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	var got []Entry
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Path != "/admin" || got[0].Reason != "Unauthorized access attempt" {
		t.Fatalf("unexpected persisted entries: %+v", got)
	}
}

func TestFileSinkOneFilePerFlush(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := sink.Write(context.Background(), []Entry{{ID: "x", Timestamp: time.Now()}}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	files, _ := os.ReadDir(sink.Dir)
	if len(files) != 3 {
		t.Fatalf("expected one file per flush, got %d", len(files))
	}
}
