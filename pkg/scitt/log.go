package scitt

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grcorsair/corsair/pkg/canonical"
	"github.com/grcorsair/corsair/pkg/cosign1"
	"github.com/grcorsair/corsair/pkg/keys"
	"github.com/grcorsair/corsair/pkg/merkle"
)

// ReceiptPayload is the JSON the log COSE-signs for each registration.
type ReceiptPayload struct {
	LogID    string `json:"logId"`
	TreeSize int64  `json:"treeSize"`
	TreeHash string `json:"treeHash"`
}

// RegistrationResult is returned by Register.
type RegistrationResult struct {
	EntryID          string    `json:"entryId"`
	RegistrationTime time.Time `json:"registrationTime"`
	Status           string    `json:"status"`
}

// ReceiptResult is the external receipt shape.
type ReceiptResult struct {
	EntryID          string    `json:"entryId"`
	RegistrationTime time.Time `json:"registrationTime"`
	LogID            string    `json:"logId"`
	Proof            string    `json:"proof"` // base64 COSE_Sign1
}

// Log is the transparency log. A single writer lock serializes appends; the
// tree hash is recomputed from the full statement-hash list on every append,
// never cached across writes. The hash list and head are read under that
// lock but before the insert transaction begins; only the entry and receipt
// inserts run inside the transaction.
type Log struct {
	mu     sync.Mutex
	store  *SQLStore
	mgr    keys.Manager
	logID  string
	logger *slog.Logger
}

// NewLog creates a transparency log signing receipts with mgr.
func NewLog(store *SQLStore, mgr keys.Manager, logID string) *Log {
	return &Log{
		store:  store,
		mgr:    mgr,
		logID:  logID,
		logger: slog.Default().With("component", "scitt", "log_id", logID),
	}
}

// LogID returns the log identifier embedded in receipts.
func (l *Log) LogID() string { return l.logID }

// Register appends a statement. The new tree hash covers every prior
// statement hash plus this one; treeSize is strictly monotone. Registration
// is atomic — on any failure nothing is persisted.
func (l *Log) Register(ctx context.Context, statement []byte) (*RegistrationResult, error) {
	if len(statement) == 0 {
		return nil, fmt.Errorf("scitt: empty statement")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	statementHash := canonical.HashBytes(statement)

	hashes, err := l.store.StatementHashes(ctx)
	if err != nil {
		return nil, err
	}
	_, parentHash, err := l.store.Head(ctx)
	if err != nil {
		return nil, err
	}

	hashes = append(hashes, statementHash)
	treeSize := int64(len(hashes))
	treeHash, err := merkle.Root(hashes)
	if err != nil {
		return nil, fmt.Errorf("scitt: tree hash: %w", err)
	}

	payload, err := canonical.Marshal(ReceiptPayload{
		LogID:    l.logID,
		TreeSize: treeSize,
		TreeHash: treeHash,
	})
	if err != nil {
		return nil, fmt.Errorf("scitt: receipt payload: %w", err)
	}
	proof, err := cosign1.Sign1WithFunc(ctx, payload, l.mgr.Public(), l.mgr.Sign)
	if err != nil {
		return nil, fmt.Errorf("scitt: sign receipt: %w", err)
	}

	now := time.Now().UTC()
	entry := &Entry{
		EntryID:          "urn:corsair:scitt:" + uuid.NewString(),
		Statement:        statement,
		StatementHash:    statementHash,
		TreeSize:         treeSize,
		TreeHash:         treeHash,
		ParentHash:       parentHash,
		RegistrationTime: now,
	}
	annotate(entry, statement)

	receipt := &Receipt{
		EntryID:  entry.EntryID,
		LogID:    l.logID,
		Proof:    base64.StdEncoding.EncodeToString(proof),
		IssuedAt: now,
	}

	if err := l.store.Append(ctx, entry, receipt); err != nil {
		return nil, err
	}

	return &RegistrationResult{
		EntryID:          entry.EntryID,
		RegistrationTime: now,
		Status:           "registered",
	}, nil
}

// RegisterStatement adapts Register to the receipt-chain registry surface.
func (l *Log) RegisterStatement(ctx context.Context, statement []byte) (string, error) {
	res, err := l.Register(ctx, statement)
	if err != nil {
		return "", err
	}
	return res.EntryID, nil
}

// GetReceipt returns the receipt for entryID, or nil when unknown. Reads
// fail open: lookup errors are logged and surfaced as nil.
func (l *Log) GetReceipt(ctx context.Context, entryID string) *ReceiptResult {
	r, err := l.store.GetReceipt(ctx, entryID)
	if err != nil {
		l.logger.Debug("receipt lookup failed", "entry_id", entryID, "error", err)
		return nil
	}
	e, err := l.store.GetEntry(ctx, entryID)
	if err != nil {
		l.logger.Debug("entry lookup failed", "entry_id", entryID, "error", err)
		return nil
	}
	return &ReceiptResult{
		EntryID:          r.EntryID,
		RegistrationTime: e.RegistrationTime,
		LogID:            r.LogID,
		Proof:            r.Proof,
	}
}

// VerifyReceipt COSE-verifies the stored proof for entryID under pub.
func (l *Log) VerifyReceipt(ctx context.Context, entryID string, pub ed25519.PublicKey) bool {
	r := l.GetReceipt(ctx, entryID)
	if r == nil {
		return false
	}
	payload, err := cosign1.VerifyFromBase64(r.Proof, pub)
	if err != nil {
		return false
	}
	var rp ReceiptPayload
	if err := json.Unmarshal(payload, &rp); err != nil {
		return false
	}
	return rp.LogID == l.logID
}

// Entry returns a registered entry, or nil when unknown.
func (l *Log) Entry(ctx context.Context, entryID string) *Entry {
	e, err := l.store.GetEntry(ctx, entryID)
	if err != nil {
		l.logger.Debug("entry lookup failed", "entry_id", entryID, "error", err)
		return nil
	}
	return e
}

// List pages registered entries in insertion order.
func (l *Log) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	return l.store.List(ctx, opts)
}

// IssuerProfile aggregates what a single issuer has registered.
type IssuerProfile struct {
	Issuer          string         `json:"issuer"`
	EntryCount      int            `json:"entryCount"`
	Scopes          []string       `json:"scopes,omitempty"`
	SourceCounts    map[string]int `json:"sourceCounts,omitempty"`
	AssuranceCounts map[int]int    `json:"assuranceCounts,omitempty"`
	Frameworks      []string       `json:"frameworks,omitempty"`
}

// Profile summarizes an issuer's registrations from precomputed listing
// metadata — statements are never re-parsed on read.
func (l *Log) Profile(ctx context.Context, issuer string) (*IssuerProfile, error) {
	entries, err := l.store.List(ctx, ListOptions{Issuer: issuer, Limit: 500})
	if err != nil {
		return nil, err
	}

	p := &IssuerProfile{
		Issuer:          issuer,
		SourceCounts:    make(map[string]int),
		AssuranceCounts: make(map[int]int),
	}
	scopes := map[string]bool{}
	frameworks := map[string]bool{}
	for _, e := range entries {
		p.EntryCount++
		if e.Scope != "" && !scopes[e.Scope] {
			scopes[e.Scope] = true
			p.Scopes = append(p.Scopes, e.Scope)
		}
		if e.Source != "" {
			p.SourceCounts[e.Source]++
		}
		p.AssuranceCounts[e.Assurance]++
		for _, f := range strings.Split(e.Frameworks, ",") {
			if f != "" && !frameworks[f] {
				frameworks[f] = true
				p.Frameworks = append(p.Frameworks, f)
			}
		}
	}
	return p, nil
}

// annotate extracts listing metadata from a statement at insert time. A
// statement is either a vc+jwt credential or a JSON receipt; anything else
// is stored without metadata.
func annotate(e *Entry, statement []byte) {
	payload := decodeJWTPayload(string(statement))
	if payload == nil {
		return
	}

	if iss, ok := payload["iss"].(string); ok {
		e.Issuer = iss
	}
	vc, _ := payload["vc"].(map[string]any)
	if vc == nil {
		return
	}
	subject, _ := vc["credentialSubject"].(map[string]any)
	if subject == nil {
		return
	}
	if scope, ok := subject["scope"].(string); ok {
		e.Scope = scope
	}
	if prov, ok := subject["provenance"].(map[string]any); ok {
		if src, ok := prov["source"].(string); ok {
			e.Source = src
		}
	}
	if ass, ok := subject["assurance"].(map[string]any); ok {
		if declared, ok := ass["declared"].(float64); ok {
			e.Assurance = int(declared)
		}
	}
	if fw, ok := subject["frameworks"].(map[string]any); ok {
		names := make([]string, 0, len(fw))
		for name := range fw {
			names = append(names, name)
		}
		sort.Strings(names)
		e.Frameworks = strings.Join(names, ",")
	}
}

func decodeJWTPayload(token string) map[string]any {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	return payload
}
