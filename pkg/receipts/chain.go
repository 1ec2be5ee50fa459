package receipts

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grcorsair/corsair/pkg/keys"
	"github.com/grcorsair/corsair/pkg/merkle"
)

// Registry is the transparency-log surface the chain submits receipts to.
type Registry interface {
	// RegisterStatement appends a serialized statement to the log and
	// returns its entry id.
	RegisterStatement(ctx context.Context, statement []byte) (string, error)
}

// Chain accumulates receipts for one pipeline run, auto-linking each
// capture to its predecessor. Captures happen in call order; the chain
// never reorders or drops.
type Chain struct {
	mu       sync.Mutex
	mgr      keys.Manager
	registry Registry
	receipts []*Statement
	logger   *slog.Logger
}

// NewChain creates a chain signing with mgr. registry may be nil, in which
// case no transparency-log submission happens.
func NewChain(mgr keys.Manager, registry Registry) *Chain {
	return &Chain{
		mgr:      mgr,
		registry: registry,
		logger:   slog.Default().With("component", "receipts.chain"),
	}
}

// Capture generates the receipt for one step, links it to the prior one,
// and — when a registry is configured — submits the serialized receipt and
// records the returned entry id.
func (c *Chain) Capture(ctx context.Context, in GenerateInput) (*Statement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.receipts) > 0 {
		in.Previous = c.receipts[len(c.receipts)-1]
	}

	stmt, err := Generate(ctx, in, c.mgr)
	if err != nil {
		return nil, err
	}

	if c.registry != nil {
		serialized, err := marshalStatement(stmt)
		if err != nil {
			return nil, err
		}
		entryID, err := c.registry.RegisterStatement(ctx, serialized)
		if err != nil {
			// Registration failure does not invalidate the receipt; the
			// credential simply carries no entry id for this step.
			c.logger.Warn("transparency registration failed", "step", in.Step, "error", err)
		} else {
			stmt.SCITTEntryID = entryID
		}
	}

	c.receipts = append(c.receipts, stmt)
	return stmt, nil
}

// Receipts returns the captured receipts in order.
func (c *Chain) Receipts() []*Statement {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Statement, len(c.receipts))
	copy(out, c.receipts)
	return out
}

// Len returns the number of captured receipts.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.receipts)
}

// Digest computes the chain digest: the Merkle root over the receipt body
// hashes. Empty chains are a fatal error.
func (c *Chain) Digest() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chainDigest(c.receipts)
}

// EntryIDs returns the transparency-log entry ids recorded so far.
func (c *Chain) EntryIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for _, r := range c.receipts {
		if r.SCITTEntryID != "" {
			ids = append(ids, r.SCITTEntryID)
		}
	}
	return ids
}

func chainDigest(stmts []*Statement) (string, error) {
	if len(stmts) == 0 {
		return "", fmt.Errorf("receipts: chain digest of empty chain")
	}
	hashes := make([]string, len(stmts))
	for i, s := range stmts {
		h, err := BodyHash(s)
		if err != nil {
			return "", err
		}
		hashes[i] = h
	}
	return merkle.Root(hashes)
}

// ProcessVerificationResult summarizes a full chain verification.
type ProcessVerificationResult struct {
	ChainValid           bool     `json:"chainValid"`
	TotalReceipts        int      `json:"totalReceipts"`
	VerifiedSignatures   int      `json:"verifiedSignatures"`
	ChainDigest          string   `json:"chainDigest,omitempty"`
	ReproducibleSteps    int      `json:"reproducibleSteps"`
	ToolAttestedSteps    int      `json:"toolAttestedSteps"`
	LLMAttestedSteps     int      `json:"llmAttestedSteps"`
	SCITTRegisteredSteps int      `json:"scittRegisteredSteps"`
	Errors               []string `json:"errors,omitempty"`
}

// VerifyChain checks every receipt's signature, hash link, and temporal
// link. Receipt 0 must carry no previous link; receipt i>0 must reference
// receipt i-1's body hash and start no earlier than it finished.
func VerifyChain(stmts []*Statement, pub ed25519.PublicKey) (*ProcessVerificationResult, error) {
	result := &ProcessVerificationResult{
		ChainValid:    true,
		TotalReceipts: len(stmts),
	}
	if len(stmts) == 0 {
		result.ChainValid = false
		result.Errors = append(result.Errors, "empty receipt chain")
		return result, nil
	}

	var prevHash string
	var prevFinished time.Time

	for i, s := range stmts {
		vr, err := Verify(s, pub)
		if err != nil {
			return nil, err
		}
		if vr.Verified {
			result.VerifiedSignatures++
		} else {
			result.ChainValid = false
			result.Errors = append(result.Errors, fmt.Sprintf("receipt %d: signature invalid", i))
		}

		if i == 0 {
			if s.Predicate.PreviousReceipt != nil {
				result.ChainValid = false
				result.Errors = append(result.Errors, "receipt 0: unexpected previous link")
			}
		} else {
			link := s.Predicate.PreviousReceipt
			if link == nil {
				result.ChainValid = false
				result.Errors = append(result.Errors, fmt.Sprintf("receipt %d: missing previous link", i))
			} else if link.BodyHash != prevHash {
				result.ChainValid = false
				result.Errors = append(result.Errors, fmt.Sprintf("receipt %d: hash link mismatch", i))
			}
			if s.Predicate.Metadata.StartedOn.Before(prevFinished) {
				result.ChainValid = false
				result.Errors = append(result.Errors, fmt.Sprintf("receipt %d: starts before receipt %d finished", i, i-1))
			}
		}

		h, err := BodyHash(s)
		if err != nil {
			return nil, err
		}
		prevHash = h
		prevFinished = s.Predicate.Metadata.FinishedOn

		if s.Predicate.Reproducible {
			result.ReproducibleSteps++
		}
		if s.Predicate.ToolAttestation != nil {
			result.ToolAttestedSteps++
		}
		if s.Predicate.LLMAttestation != nil {
			result.LLMAttestedSteps++
		}
		if s.SCITTEntryID != "" {
			result.SCITTRegisteredSteps++
		}
	}

	digest, err := chainDigest(stmts)
	if err != nil {
		return nil, err
	}
	result.ChainDigest = digest
	return result, nil
}
