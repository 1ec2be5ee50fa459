// Package evidencelog implements the append-only evidence record log: one
// JSON record per line, each back-linked to its predecessor by a SHA-256
// hash over the canonical form of {prevHash, payload}. Tampering anywhere
// in the file is detected by an end-to-end replay.
package evidencelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grcorsair/corsair/pkg/canonical"
)

// GenesisHash is the prevHash sentinel of the first record.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Record is one evidence log entry.
type Record struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prevHash"`
	Hash      string          `json:"hash"`
}

// VerifyResult reports the outcome of a full chain replay.
type VerifyResult struct {
	Valid         bool `json:"valid"`
	RecordCount   int  `json:"recordCount"`
	FirstBadIndex *int `json:"firstBadIndex,omitempty"`
}

// Log is a file-backed evidence log. Appends are serialized by a single
// writer lock; verification reads a point-in-time snapshot.
type Log struct {
	mu   sync.Mutex
	path string
	tail string // hash of the last record, GenesisHash when empty
	n    int
}

// Open opens (or creates) the log at path and seeks to the tail.
func Open(path string) (*Log, error) {
	l := &Log{path: path, tail: GenesisHash}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("evidencelog: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := newScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("evidencelog: corrupt record %d: %w", l.n, err)
		}
		l.tail = rec.Hash
		l.n++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("evidencelog: scan: %w", err)
	}
	return l, nil
}

// Append writes a new record whose hash covers {prevHash, payload}.
func (l *Log) Append(payload any) (*Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("evidencelog: marshal payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	hash, err := recordHash(l.tail, raw)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Payload:   raw,
		PrevHash:  l.tail,
		Hash:      hash,
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("evidencelog: marshal record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("evidencelog: open for append: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("evidencelog: write: %w", err)
	}

	l.tail = hash
	l.n++
	return rec, nil
}

// Count returns the number of records appended so far.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Root returns the hash of the last record — the chain head a credential
// embeds as hashChainRoot. Empty logs return GenesisHash.
func (l *Log) Root() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tail
}

// Verify replays the whole file, recomputing every hash and back-link.
// The replay is O(n); the first broken record index is reported.
func (l *Log) Verify() (*VerifyResult, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return &VerifyResult{Valid: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("evidencelog: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	result := &VerifyResult{Valid: true}
	prev := GenesisHash

	scanner := newScanner(f)
	idx := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return fail(result, idx), nil
		}
		if rec.PrevHash != prev {
			return fail(result, idx), nil
		}
		expected, err := recordHash(rec.PrevHash, rec.Payload)
		if err != nil {
			return nil, err
		}
		if rec.Hash != expected {
			return fail(result, idx), nil
		}

		prev = rec.Hash
		idx++
		result.RecordCount = idx
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("evidencelog: scan: %w", err)
	}
	return result, nil
}

// Records reads every record in order.
func (l *Log) Records() ([]Record, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("evidencelog: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []Record
	scanner := newScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("evidencelog: corrupt record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

func recordHash(prevHash string, payload json.RawMessage) (string, error) {
	h, err := canonical.Hash(map[string]any{
		"prev_hash": prevHash,
		"payload":   payload,
	})
	if err != nil {
		return "", fmt.Errorf("evidencelog: hash record: %w", err)
	}
	return h, nil
}

func fail(r *VerifyResult, idx int) *VerifyResult {
	r.Valid = false
	r.FirstBadIndex = &idx
	r.RecordCount = idx
	return r
}

func newScanner(f *os.File) *bufio.Scanner {
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return s
}
