package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileSink writes one timestamp-named JSON file per flush.
type FileSink struct {
	Dir string

	now func() time.Time
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	return &FileSink{Dir: dir, now: time.Now}, nil
}

func (s *FileSink) Write(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := s.now().UTC()
	name := fmt.Sprintf("ztna_access_%s_%09d.json", now.Format("20060102_150405"), now.Nanosecond())
	path := filepath.Join(s.Dir, name)
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("audit: marshal batch: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("audit: write batch: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("audit: finalize batch: %w", err)
	}
	return nil
}
