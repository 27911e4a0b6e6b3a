package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Log appends records to one chained file.
type Log struct {
	mu    sync.Mutex
	file  *os.File
	chain chain
	now   func() time.Time
}

// Open opens or creates the file at path. An existing file is verified
// first; a broken chain is not extended.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	c := newChain()
	if existing, err := os.Open(path); err == nil {
		var line int
		c, line, err = walk(existing, nil)
		existing.Close()
		if err != nil {
			return nil, fmt.Errorf("audit: %s line %d: %w", path, line, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("audit: read existing log: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return &Log{file: f, chain: c, now: time.Now}, nil
}

// Append chains r onto the file and syncs it. Seq and Prev are always
// assigned here; Time is filled when empty.
func (l *Log) Append(r Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.Time == "" {
		r.Time = l.now().UTC().Format(TimeLayout)
	}
	r.Seq = l.chain.seq + 1
	r.Prev = l.chain.tip

	line, err := json.Marshal(r)
	if err != nil {
		return r, fmt.Errorf("audit: marshal: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return r, fmt.Errorf("audit: write: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return r, fmt.Errorf("audit: sync: %w", err)
	}
	// accept cannot fail: Seq and Prev were taken from the chain above.
	_ = l.chain.accept(r, line)
	return r, nil
}

// Close closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
