package audit

import (
	"fmt"
	"os"
)

// Report is the outcome of verifying a file.
type Report struct {
	Valid   bool   `json:"valid"`
	Records int    `json:"records"`
	Line    int    `json:"line,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Verify walks the file at path and reports the first broken link.
func Verify(path string) Report {
	f, err := os.Open(path)
	if err != nil {
		return Report{Reason: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	c, line, err := walk(f, nil)
	if err != nil {
		return Report{Records: c.seq, Line: line, Reason: err.Error()}
	}
	return Report{Valid: true, Records: c.seq}
}

// Tail returns the last n verified records, oldest first. It fails if the
// chain is broken anywhere in the file.
func Tail(path string, n int) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	defer f.Close()

	var recs []Record
	_, line, err := walk(f, func(r Record) {
		recs = append(recs, r)
		if n > 0 && len(recs) > n {
			recs = recs[1:]
		}
	})
	if err != nil {
		return recs, fmt.Errorf("line %d: %w", line, err)
	}
	return recs, nil
}
