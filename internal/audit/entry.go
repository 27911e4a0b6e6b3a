// Package audit mirrors the operation log into an append-only JSONL file in
// which every line carries the digest of the line before it.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// TimeLayout is the timestamp layout of mirrored records.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Genesis is the Prev value of the first record in a file.
var Genesis = "sha256:" + strings.Repeat("0", sha256.Size*2)

// Record is one mirrored operation. Fields are plain strings and ints so the
// marshalled line is byte-stable for hashing.
type Record struct {
	Seq         int    `json:"seq"`
	Time        string `json:"time"`
	OpID        string `json:"op_id"`
	Category    string `json:"category"`
	Outcome     string `json:"outcome"`
	Detail      string `json:"detail"`
	MatchedRule string `json:"matched_rule,omitempty"`
	Prev        string `json:"prev"`
}

// Digest returns "sha256:<hex>" of one raw line.
func Digest(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
