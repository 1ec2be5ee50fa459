package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grcorsair/corsair/pkg/credential"
	"github.com/grcorsair/corsair/pkg/did"
)

func intPtr(v int) *int { return &v }

func payload() *Payload {
	return &Payload{
		Issuer: "did:web:proofs.example.com",
		VC: credential.VC{
			CredentialSubject: credential.Subject{
				Provenance: credential.Provenance{
					Source:         did.SourceTool,
					SourceIdentity: "prowler",
					SourceDate:     time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339),
					SourceDocument: "sha256:abc",
				},
				Summary: credential.Summary{
					ControlsTested: 3, ControlsPassed: 2, ControlsFailed: 1, OverallScore: 67,
				},
				Frameworks: map[string]credential.Framework{
					"SOC2": {ControlsMapped: 3, Passed: 2, Failed: 1},
				},
				EvidenceChain: &credential.EvidenceChain{ChainVerified: true, RecordCount: 2},
				ProcessProvenance: &credential.ProcessProvenance{
					ReceiptCount: 2, ChainVerified: true,
					ToolAttestedSteps: 1,
					SCITTEntryIDs:     []string{"urn:scitt:1"},
				},
			},
		},
	}
}

func passingContext() *Context {
	return &Context{
		EvidenceChainValid:    true,
		ReceiptChainValid:     true,
		ToolAttestedVerified:  1,
		BindingValid:          true,
		AllReceiptsRegistered: true,
	}
}

func TestEmptyPolicyPasses(t *testing.T) {
	res := Evaluate(payload(), &Policy{}, nil)
	assert.True(t, res.OK)
	assert.Empty(t, res.Errors)
}

func TestFullPolicyPasses(t *testing.T) {
	pol := &Policy{
		RequireIssuer:          "did:web:proofs.example.com",
		RequireFrameworks:      []string{"SOC2"},
		MinScore:               intPtr(50),
		MaxAgeDays:             intPtr(30),
		RequireSource:          "tool",
		RequireSourceIdentity:  []string{"prowler", "scoutsuite"},
		RequireToolAttestation: true,
		RequireInputBinding:    true,
		RequireEvidenceChain:   true,
		RequireReceipts:        true,
		RequireSCITT:           true,
	}
	res := Evaluate(payload(), pol, passingContext())
	assert.True(t, res.OK, "errors: %v", res.Errors)
}

func TestEachConstraintFailure(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Payload, *Policy, *Context)
	}{
		{"issuer", func(p *Payload, pol *Policy, _ *Context) {
			pol.RequireIssuer = "did:web:other.example.com"
		}},
		{"framework", func(_ *Payload, pol *Policy, _ *Context) {
			pol.RequireFrameworks = []string{"HIPAA"}
		}},
		{"minScore", func(_ *Payload, pol *Policy, _ *Context) {
			pol.MinScore = intPtr(90)
		}},
		{"maxAgeMissingDate", func(p *Payload, pol *Policy, _ *Context) {
			pol.MaxAgeDays = intPtr(30)
			p.VC.CredentialSubject.Provenance.SourceDate = ""
		}},
		{"maxAgeTooOld", func(p *Payload, pol *Policy, _ *Context) {
			pol.MaxAgeDays = intPtr(1)
			p.VC.CredentialSubject.Provenance.SourceDate =
				time.Now().UTC().Add(-72 * time.Hour).Format(time.RFC3339)
		}},
		{"source", func(_ *Payload, pol *Policy, _ *Context) {
			pol.RequireSource = "auditor"
		}},
		{"sourceIdentity", func(_ *Payload, pol *Policy, _ *Context) {
			pol.RequireSourceIdentity = []string{"scoutsuite"}
		}},
		{"toolAttestation", func(p *Payload, pol *Policy, c *Context) {
			pol.RequireToolAttestation = true
			p.VC.CredentialSubject.ProcessProvenance.ToolAttestedSteps = 0
			c.ToolAttestedVerified = 0
		}},
		{"inputBinding", func(p *Payload, pol *Policy, _ *Context) {
			pol.RequireInputBinding = true
			p.VC.CredentialSubject.Provenance.SourceDocument = ""
		}},
		{"bindingContext", func(_ *Payload, pol *Policy, c *Context) {
			pol.RequireInputBinding = true
			c.BindingValid = false
		}},
		{"evidenceChain", func(p *Payload, pol *Policy, _ *Context) {
			pol.RequireEvidenceChain = true
			p.VC.CredentialSubject.EvidenceChain = nil
		}},
		{"receipts", func(p *Payload, pol *Policy, _ *Context) {
			pol.RequireReceipts = true
			p.VC.CredentialSubject.ProcessProvenance = nil
		}},
		{"scitt", func(p *Payload, pol *Policy, _ *Context) {
			pol.RequireSCITT = true
			p.VC.CredentialSubject.ProcessProvenance.SCITTEntryIDs = nil
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, pol, ctx := payload(), &Policy{}, passingContext()
			tc.mutate(p, pol, ctx)
			res := Evaluate(p, pol, ctx)
			assert.False(t, res.OK)
			assert.NotEmpty(t, res.Errors)
		})
	}
}

// Monotonicity: enabling additional constraints can only add errors.
func TestPolicyMonotonicity(t *testing.T) {
	p := payload()
	p.VC.CredentialSubject.Summary.OverallScore = 40 // fails MinScore 50
	ctx := passingContext()

	base := Evaluate(p, &Policy{MinScore: intPtr(50)}, ctx)
	require.False(t, base.OK)

	more := Evaluate(p, &Policy{
		MinScore:      intPtr(50),
		RequireIssuer: "did:web:other.example.com",
	}, ctx)
	assert.False(t, more.OK)
	assert.GreaterOrEqual(t, len(more.Errors), len(base.Errors))
	// The original violation is still reported verbatim.
	assert.Subset(t, more.Errors, base.Errors)
}

func TestCollectsEveryViolation(t *testing.T) {
	p := payload()
	pol := &Policy{
		RequireIssuer:     "did:web:other.example.com",
		RequireFrameworks: []string{"HIPAA", "PCI"},
		MinScore:          intPtr(99),
	}
	res := Evaluate(p, pol, passingContext())
	assert.False(t, res.OK)
	assert.Len(t, res.Errors, 4)
}

func TestCustomConstraints(t *testing.T) {
	p := payload()
	ctx := passingContext()

	pass := Evaluate(p, &Policy{Custom: []string{
		`credential.vc.credentialSubject.summary.overallScore >= 50`,
		`context.receiptChainValid`,
	}}, ctx)
	assert.True(t, pass.OK, "errors: %v", pass.Errors)

	failing := Evaluate(p, &Policy{Custom: []string{
		`credential.vc.credentialSubject.summary.overallScore >= 99`,
	}}, ctx)
	assert.False(t, failing.OK)

	broken := Evaluate(p, &Policy{Custom: []string{`this is not CEL`}}, ctx)
	assert.False(t, broken.OK)

	nonBool := Evaluate(p, &Policy{Custom: []string{`credential.iss`}}, ctx)
	assert.False(t, nonBool.OK)
}

func TestParseYAML(t *testing.T) {
	pol, err := Parse([]byte(`
requireIssuer: did:web:proofs.example.com
requireFrameworks: [SOC2]
minScore: 80
maxAgeDays: 30
requireSource: tool
requireToolAttestation: true
requireScitt: true
custom:
  - "credential.vc.credentialSubject.summary.overallScore >= 80"
`))
	require.NoError(t, err)
	assert.Equal(t, "did:web:proofs.example.com", pol.RequireIssuer)
	assert.Equal(t, []string{"SOC2"}, pol.RequireFrameworks)
	require.NotNil(t, pol.MinScore)
	assert.Equal(t, 80, *pol.MinScore)
	assert.True(t, pol.RequireSCITT)
	assert.Len(t, pol.Custom, 1)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("requireIsuer: typo\n"))
	assert.Error(t, err)
}
