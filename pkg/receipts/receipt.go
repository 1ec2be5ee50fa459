// Package receipts captures pipeline steps as signed in-toto-style
// attestations and joins them into a hash-linked chain with a Merkle chain
// digest. Each receipt's signature covers the canonical hash of its body —
// everything except the signature itself and the transparency-log entry id,
// which are attached after signing.
package receipts

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/grcorsair/corsair/pkg/canonical"
	"github.com/grcorsair/corsair/pkg/cosign1"
	"github.com/grcorsair/corsair/pkg/keys"
)

const (
	// StatementType is the in-toto statement envelope type.
	StatementType = "https://in-toto.io/Statement/v1"
	// PredicateType identifies the process-receipt predicate schema.
	PredicateType = "https://grcorsair.com/attestation/process/v1"
)

// Statement is a signed process receipt.
type Statement struct {
	Type          string    `json:"_type"`
	Subject       []Subject `json:"subject"`
	PredicateType string    `json:"predicateType"`
	Predicate     Predicate `json:"predicate"`

	// Signature is a base64 COSE_Sign1 over the body hash. Excluded from
	// the signed bytes.
	Signature string `json:"signature,omitempty"`
	// SCITTEntryID is assigned after transparency-log registration.
	// Excluded from the signed bytes.
	SCITTEntryID string `json:"scittEntryId,omitempty"`
}

// Subject names an artifact and its digest.
type Subject struct {
	Name   string            `json:"name"`
	Digest map[string]string `json:"digest"`
}

// Predicate carries the step description.
type Predicate struct {
	Step            string           `json:"step"`
	Builder         Builder          `json:"builder"`
	Reproducible    bool             `json:"reproducible"`
	Materials       []Material       `json:"materials,omitempty"`
	Metadata        Metadata         `json:"metadata"`
	ToolAttestation *ToolAttestation `json:"toolAttestation,omitempty"`
	LLMAttestation  *LLMAttestation  `json:"llmAttestation,omitempty"`
	PreviousReceipt *PreviousReceipt `json:"previousReceipt,omitempty"`
}

// Builder describes the component that executed the step.
type Builder struct {
	ID             string                   `json:"id"`
	Version        string                   `json:"version"`
	CodeDigest     string                   `json:"codeDigest,omitempty"`
	KeyAttestation *keys.KeyAttestationInfo `json:"keyAttestation,omitempty"`
}

// Material is a hashed step input.
type Material struct {
	URI    string            `json:"uri"`
	Digest map[string]string `json:"digest"`
}

// Metadata holds the step's time window.
type Metadata struct {
	StartedOn  time.Time `json:"startedOn"`
	FinishedOn time.Time `json:"finishedOn"`
}

// ToolAttestation records the tool that produced the step's evidence.
type ToolAttestation struct {
	Tool         string `json:"tool"`
	Version      string `json:"version,omitempty"`
	OutputDigest string `json:"outputDigest,omitempty"`
}

// LLMAttestation records model involvement in a step.
type LLMAttestation struct {
	Model        string  `json:"model"`
	PromptDigest string  `json:"promptDigest"`
	Temperature  float64 `json:"temperature"`
}

// PreviousReceipt links to the predecessor by its body hash.
type PreviousReceipt struct {
	BodyHash     string `json:"bodyHash"`
	SCITTEntryID string `json:"scittEntryId,omitempty"`
}

// BodyHash computes the canonical hash of the receipt with Signature and
// SCITTEntryID stripped. Setting either field never changes the hash.
func BodyHash(s *Statement) (string, error) {
	body := *s
	body.Signature = ""
	body.SCITTEntryID = ""
	h, err := canonical.Hash(body)
	if err != nil {
		return "", fmt.Errorf("receipts: body hash: %w", err)
	}
	return h, nil
}

// marshalStatement serializes a receipt for transparency-log submission.
func marshalStatement(s *Statement) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("receipts: marshal statement: %w", err)
	}
	return b, nil
}

// GenerateInput describes one pipeline step to attest.
type GenerateInput struct {
	Step       string
	InputData  any
	OutputData any

	BuilderID      string
	BuilderVersion string
	CodeDigest     string
	Reproducible   bool

	Tool     *ToolAttestation
	LLM      *LLMAttestation
	Previous *Statement

	StartedOn  time.Time
	FinishedOn time.Time
}

// Generate hashes the step's input and output, composes the in-toto
// envelope, links the predecessor by body hash, and signs the body hash
// with COSE_Sign1 via the manager.
func Generate(ctx context.Context, in GenerateInput, mgr keys.Manager) (*Statement, error) {
	if in.Step == "" {
		return nil, fmt.Errorf("receipts: step name required")
	}
	if in.BuilderVersion != "" {
		if _, err := semver.NewVersion(in.BuilderVersion); err != nil {
			return nil, fmt.Errorf("receipts: builder version %q is not semver: %w", in.BuilderVersion, err)
		}
	}

	inputHash, err := canonical.Hash(in.InputData)
	if err != nil {
		return nil, fmt.Errorf("receipts: hash input: %w", err)
	}
	outputHash, err := canonical.Hash(in.OutputData)
	if err != nil {
		return nil, fmt.Errorf("receipts: hash output: %w", err)
	}

	started, finished := in.StartedOn, in.FinishedOn
	if started.IsZero() {
		started = time.Now().UTC()
	}
	if finished.IsZero() {
		finished = time.Now().UTC()
	}

	att := mgr.Attestation()
	stmt := &Statement{
		Type:          StatementType,
		PredicateType: PredicateType,
		Subject: []Subject{{
			Name:   in.Step,
			Digest: map[string]string{"sha256": outputHash},
		}},
		Predicate: Predicate{
			Step: in.Step,
			Builder: Builder{
				ID:             in.BuilderID,
				Version:        in.BuilderVersion,
				CodeDigest:     in.CodeDigest,
				KeyAttestation: &att,
			},
			Reproducible: in.Reproducible,
			Materials: []Material{{
				URI:    "input:" + in.Step,
				Digest: map[string]string{"sha256": inputHash},
			}},
			Metadata:        Metadata{StartedOn: started, FinishedOn: finished},
			ToolAttestation: in.Tool,
			LLMAttestation:  in.LLM,
		},
	}

	if in.Previous != nil {
		prevHash, err := BodyHash(in.Previous)
		if err != nil {
			return nil, err
		}
		stmt.Predicate.PreviousReceipt = &PreviousReceipt{
			BodyHash:     prevHash,
			SCITTEntryID: in.Previous.SCITTEntryID,
		}
	}

	bodyHash, err := BodyHash(stmt)
	if err != nil {
		return nil, err
	}

	sig, err := cosign1.Sign1WithFunc(ctx, []byte(bodyHash), mgr.Public(), mgr.Sign)
	if err != nil {
		return nil, fmt.Errorf("receipts: sign: %w", err)
	}
	stmt.Signature = cosign1.EncodeBase64(sig)
	return stmt, nil
}

// VerifyResult is the outcome of a single receipt verification.
type VerifyResult struct {
	Verified bool   `json:"verified"`
	Payload  string `json:"payload,omitempty"`
}

// Verify recomputes the body hash, COSE-verifies the signature, and checks
// the signed payload equals the body hash. Any mismatch yields
// Verified=false rather than an error.
func Verify(s *Statement, pub ed25519.PublicKey) (*VerifyResult, error) {
	bodyHash, err := BodyHash(s)
	if err != nil {
		return nil, err
	}
	if s.Signature == "" {
		return &VerifyResult{}, nil
	}

	payload, err := cosign1.VerifyFromBase64(s.Signature, pub)
	if err != nil {
		return &VerifyResult{}, nil //nolint:nilerr // verification failure is a result, not an error
	}
	if string(payload) != bodyHash {
		return &VerifyResult{}, nil
	}
	return &VerifyResult{Verified: true, Payload: string(payload)}, nil
}
