// Package policy evaluates verification policies against decoded
// credentials. Constraints are checked in a fixed order and every failure
// is collected — the engine never short-circuits, so enabling an extra
// constraint can only add errors, never remove them.
package policy

import (
	"fmt"
	"time"

	"github.com/grcorsair/corsair/pkg/credential"
	"github.com/grcorsair/corsair/pkg/did"
)

// Policy is a declarative verification policy. Zero values disable their
// constraint.
type Policy struct {
	RequireIssuer         string   `json:"requireIssuer,omitempty" yaml:"requireIssuer"`
	RequireFrameworks     []string `json:"requireFrameworks,omitempty" yaml:"requireFrameworks"`
	MinScore              *int     `json:"minScore,omitempty" yaml:"minScore"`
	MaxAgeDays            *int     `json:"maxAgeDays,omitempty" yaml:"maxAgeDays"`
	RequireSource         string   `json:"requireSource,omitempty" yaml:"requireSource"`
	RequireSourceIdentity []string `json:"requireSourceIdentity,omitempty" yaml:"requireSourceIdentity"`

	RequireToolAttestation bool `json:"requireToolAttestation,omitempty" yaml:"requireToolAttestation"`
	RequireInputBinding    bool `json:"requireInputBinding,omitempty" yaml:"requireInputBinding"`
	RequireEvidenceChain   bool `json:"requireEvidenceChain,omitempty" yaml:"requireEvidenceChain"`
	RequireReceipts        bool `json:"requireReceipts,omitempty" yaml:"requireReceipts"`
	RequireSCITT           bool `json:"requireScitt,omitempty" yaml:"requireScitt"`

	// Custom holds CEL expressions over `credential` and `context`; each
	// must evaluate to true for the policy to pass.
	Custom []string `json:"custom,omitempty" yaml:"custom"`
}

// Context carries the out-of-band verification results the policy consults:
// the outcomes of the evidence-chain, receipt-chain, and input-binding
// checks run by the verifier.
type Context struct {
	EvidenceChainValid    bool      `json:"evidenceChainValid"`
	ReceiptChainValid     bool      `json:"receiptChainValid"`
	ToolAttestedVerified  int       `json:"toolAttestedVerified"`
	BindingValid          bool      `json:"bindingValid"`
	AllReceiptsRegistered bool      `json:"allReceiptsRegistered"`
	Now                   time.Time `json:"-"`
}

// Result is the policy outcome: OK iff no constraint failed.
type Result struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

// Evaluate applies every enabled constraint in order and collects all
// violations.
func Evaluate(p *Payload, pol *Policy, ctx *Context) *Result {
	res := &Result{OK: true}
	fail := func(format string, args ...any) {
		res.OK = false
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}

	if ctx == nil {
		ctx = &Context{}
	}
	now := ctx.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	subject := p.VC.CredentialSubject

	if pol.RequireIssuer != "" && p.Issuer != pol.RequireIssuer {
		fail("issuer %q does not match required issuer %q", p.Issuer, pol.RequireIssuer)
	}

	for _, fw := range pol.RequireFrameworks {
		if _, ok := subject.Frameworks[fw]; !ok {
			fail("required framework %q not covered", fw)
		}
	}

	if pol.MinScore != nil && subject.Summary.OverallScore < *pol.MinScore {
		fail("overall score %d below minimum %d", subject.Summary.OverallScore, *pol.MinScore)
	}

	if pol.MaxAgeDays != nil {
		if subject.Provenance.SourceDate == "" {
			fail("source date missing; cannot enforce max age of %d days", *pol.MaxAgeDays)
		} else if sourceDate, err := time.Parse(time.RFC3339, subject.Provenance.SourceDate); err != nil {
			fail("source date %q unparseable", subject.Provenance.SourceDate)
		} else if now.Sub(sourceDate) > time.Duration(*pol.MaxAgeDays)*24*time.Hour {
			fail("evidence is older than %d days", *pol.MaxAgeDays)
		}
	}

	if pol.RequireSource != "" && subject.Provenance.Source != did.ProvenanceSource(pol.RequireSource) {
		fail("provenance source %q does not match required %q", subject.Provenance.Source, pol.RequireSource)
	}

	if len(pol.RequireSourceIdentity) > 0 {
		allowed := false
		for _, id := range pol.RequireSourceIdentity {
			if subject.Provenance.SourceIdentity == id {
				allowed = true
				break
			}
		}
		if !allowed {
			fail("source identity %q not in allowed set", subject.Provenance.SourceIdentity)
		}
	}

	if pol.RequireToolAttestation {
		attested := ctx.ToolAttestedVerified > 0
		if subject.ProcessProvenance != nil && subject.ProcessProvenance.ToolAttestedSteps > 0 {
			attested = true
		}
		if !attested {
			fail("no tool-attested pipeline steps")
		}
	}

	if pol.RequireInputBinding {
		if subject.Provenance.SourceDocument == "" {
			fail("input binding required but source document missing")
		} else if !ctx.BindingValid {
			fail("input binding verification failed")
		}
	}

	if pol.RequireEvidenceChain {
		if subject.EvidenceChain == nil || !subject.EvidenceChain.ChainVerified {
			fail("evidence chain missing or unverified")
		} else if !ctx.EvidenceChainValid {
			fail("evidence chain replay failed")
		}
	}

	if pol.RequireReceipts {
		if subject.ProcessProvenance == nil {
			fail("process receipts required but absent")
		} else if !ctx.ReceiptChainValid {
			fail("receipt chain verification failed")
		}
	}

	if pol.RequireSCITT {
		registered := subject.ProcessProvenance != nil && len(subject.ProcessProvenance.SCITTEntryIDs) > 0
		if !registered {
			fail("transparency-log registration required but no entry ids present")
		} else if !ctx.AllReceiptsRegistered {
			fail("not all receipts are transparency-registered")
		}
	}

	if len(pol.Custom) > 0 {
		for _, violation := range evaluateCustom(p, ctx, pol.Custom) {
			fail("%s", violation)
		}
	}

	return res
}

// Payload aliases the credential payload the engine consumes.
type Payload = credential.Payload
