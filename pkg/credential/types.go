// Package credential defines the Proof of Operational Effectiveness (CPOE)
// credential format and its generator: a JWT-shaped verifiable credential
// signed with EdDSA whose payload carries provenance, framework summaries,
// and the evidence and process chains backing them.
package credential

import (
	"time"

	"github.com/grcorsair/corsair/pkg/did"
)

const (
	// ContextCredentialsV2 must appear in every credential's @context.
	ContextCredentialsV2 = "https://www.w3.org/ns/credentials/v2"
	// TypeVerifiableCredential must appear in every credential's type list.
	TypeVerifiableCredential = "VerifiableCredential"
	// TypeCPOE tags the domain credential type.
	TypeCPOE = "CPOECredential"

	// JWTType is the JOSE typ header value.
	JWTType = "vc+jwt"

	// MaxSerializedSize bounds the signed JWT (input-size error beyond it).
	MaxSerializedSize = 100 * 1024
)

// Payload is the top-level JWT claims set.
type Payload struct {
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
	JTI       string `json:"jti"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	VC        VC     `json:"vc"`
}

// VC is the verifiable-credential body.
type VC struct {
	Context           []string `json:"@context"`
	Type              []string `json:"type"`
	Issuer            string   `json:"issuer"`
	ValidFrom         string   `json:"validFrom"`
	ValidUntil        string   `json:"validUntil"`
	CredentialSubject Subject  `json:"credentialSubject"`
}

// Subject carries the compliance claims.
type Subject struct {
	Scope             string               `json:"scope"`
	Provenance        Provenance           `json:"provenance"`
	Assurance         Assurance            `json:"assurance"`
	Summary           Summary              `json:"summary"`
	Frameworks        map[string]Framework `json:"frameworks"`
	EvidenceChain     *EvidenceChain       `json:"evidenceChain,omitempty"`
	ProcessProvenance *ProcessProvenance   `json:"processProvenance,omitempty"`
	Dependencies      []Dependency         `json:"dependencies,omitempty"`
}

// Provenance identifies who produced the evidence behind the credential.
type Provenance struct {
	Source         did.ProvenanceSource `json:"source"`
	SourceIdentity string               `json:"sourceIdentity,omitempty"`
	SourceDate     string               `json:"sourceDate,omitempty"`
	SourceDocument string               `json:"sourceDocument,omitempty"`
}

// Assurance declares the evidence strength (0-4).
type Assurance struct {
	Declared  int            `json:"declared"`
	Verified  int            `json:"verified"`
	Method    string         `json:"method"`
	Breakdown map[string]int `json:"breakdown,omitempty"`
}

// Summary aggregates control outcomes.
type Summary struct {
	ControlsTested int `json:"controlsTested"`
	ControlsPassed int `json:"controlsPassed"`
	ControlsFailed int `json:"controlsFailed"`
	OverallScore   int `json:"overallScore"`
}

// Framework summarizes one framework's mapped controls.
type Framework struct {
	ControlsMapped int             `json:"controlsMapped"`
	Passed         int             `json:"passed"`
	Failed         int             `json:"failed"`
	Controls       []ControlResult `json:"controls"`
}

// ControlResult is one control outcome inside a framework summary.
type ControlResult struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

// EvidenceChain binds the credential to an evidence hash chain.
type EvidenceChain struct {
	HashChainRoot string `json:"hashChainRoot"`
	RecordCount   int    `json:"recordCount"`
	ChainVerified bool   `json:"chainVerified"`
}

// ProcessProvenance binds the credential to its receipt chain.
type ProcessProvenance struct {
	ReceiptCount      int      `json:"receiptCount"`
	ChainVerified     bool     `json:"chainVerified"`
	ChainDigest       string   `json:"chainDigest"`
	ToolAttestedSteps int      `json:"toolAttestedSteps"`
	SCITTEntryIDs     []string `json:"scittEntryIds,omitempty"`
}

// Dependency references an upstream credential this one builds on.
type Dependency struct {
	Ref    string `json:"ref"`
	Digest string `json:"digest,omitempty"`
}

// Validate enforces the structural invariants every credential payload
// carries: summary arithmetic, score bounds, validity window ordering.
func (p *Payload) Validate() error {
	s := p.VC.CredentialSubject.Summary
	if s.ControlsPassed+s.ControlsFailed > s.ControlsTested {
		return errSummaryArithmetic
	}
	if s.OverallScore < 0 || s.OverallScore > 100 {
		return errScoreBounds
	}
	from, err := time.Parse(time.RFC3339, p.VC.ValidFrom)
	if err != nil {
		return errValidityWindow
	}
	until, err := time.Parse(time.RFC3339, p.VC.ValidUntil)
	if err != nil {
		return errValidityWindow
	}
	if !until.After(from) {
		return errValidityWindow
	}
	return nil
}
