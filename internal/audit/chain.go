package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrBrokenChain means a record does not follow the one before it.
var ErrBrokenChain = errors.New("audit: broken chain")

// chain is the running tail of a verified file.
type chain struct {
	seq int
	tip string
}

func newChain() chain { return chain{tip: Genesis} }

// accept checks one record against the tail and advances it.
func (c *chain) accept(r Record, line []byte) error {
	if r.Prev != c.tip {
		return fmt.Errorf("%w: prev is %s, want %s", ErrBrokenChain, r.Prev, c.tip)
	}
	if r.Seq != c.seq+1 {
		return fmt.Errorf("%w: seq is %d, want %d", ErrBrokenChain, r.Seq, c.seq+1)
	}
	c.seq = r.Seq
	c.tip = Digest(line)
	return nil
}

// walk verifies every line of r, calling visit for each accepted record.
// On failure it returns the 1-based line number that broke the chain.
func walk(r io.Reader, visit func(Record)) (chain, int, error) {
	c := newChain()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Bytes()
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return c, n, fmt.Errorf("audit: parse: %w", err)
		}
		if err := c.accept(rec, line); err != nil {
			return c, n, err
		}
		if visit != nil {
			visit(rec)
		}
	}
	if err := sc.Err(); err != nil {
		return c, n + 1, fmt.Errorf("audit: read: %w", err)
	}
	return c, 0, nil
}
