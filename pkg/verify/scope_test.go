package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grcorsair/corsair/pkg/credential"
	"github.com/grcorsair/corsair/pkg/did"
)

func scopedPayload(frameworks []string, assurance int, source did.ProvenanceSource) *credential.Payload {
	fw := make(map[string]credential.Framework, len(frameworks))
	for _, name := range frameworks {
		fw[name] = credential.Framework{}
	}
	return &credential.Payload{
		VC: credential.VC{
			CredentialSubject: credential.Subject{
				Provenance: credential.Provenance{Source: source},
				Assurance:  credential.Assurance{Declared: assurance},
				Frameworks: fw,
			},
		},
	}
}

func TestNoScopePassesUnchecked(t *testing.T) {
	doc := &did.Document{
		ID: "did:web:a.example.com",
		VerificationMethod: []did.VerificationMethod{
			{ID: "did:web:a.example.com#key-1"},
		},
	}
	res := EnforceScope(scopedPayload([]string{"SOC2", "HIPAA"}, 4, did.SourceSelf), doc, "did:web:a.example.com#key-1")
	assert.True(t, res.ScopeValid)
	assert.False(t, res.ScopeChecked)
}

func TestFrameworkScopeViolationNamesOffender(t *testing.T) {
	scope := &did.KeyScope{Frameworks: []string{"SOC2"}}
	res := EvaluateScope(scopedPayload([]string{"SOC2", "HIPAA"}, 0, did.SourceTool), scope)
	assert.True(t, res.ScopeChecked)
	assert.False(t, res.ScopeValid)
	assert.Contains(t, res.Violations[0], "HIPAA")
}

func TestMaxAssuranceViolationMessage(t *testing.T) {
	max := 2
	scope := &did.KeyScope{MaxAssurance: &max}
	res := EvaluateScope(scopedPayload([]string{"SOC2"}, 3, did.SourceTool), scope)
	assert.False(t, res.ScopeValid)
	assert.Contains(t, res.Violations, "CPOE assurance level 3 exceeds attestation maxAssurance 2")

	ok := EvaluateScope(scopedPayload([]string{"SOC2"}, 2, did.SourceTool), scope)
	assert.True(t, ok.ScopeValid)
}

func TestAllowedSourcesScope(t *testing.T) {
	scope := &did.KeyScope{AllowedSources: []did.ProvenanceSource{did.SourceTool, did.SourceAuditor}}
	assert.True(t, EvaluateScope(scopedPayload(nil, 0, did.SourceTool), scope).ScopeValid)
	assert.False(t, EvaluateScope(scopedPayload(nil, 0, did.SourceSelf), scope).ScopeValid)
}

func TestPurposeScope(t *testing.T) {
	attestOnly := &did.KeyScope{Purpose: []did.KeyPurpose{did.PurposeAttest}}
	assert.False(t, EvaluateScope(scopedPayload(nil, 0, did.SourceTool), attestOnly).ScopeValid)

	signing := &did.KeyScope{Purpose: []did.KeyPurpose{did.PurposeSign, did.PurposeRevoke}}
	assert.True(t, EvaluateScope(scopedPayload(nil, 0, did.SourceTool), signing).ScopeValid)
}

func TestMultipleViolationsCollected(t *testing.T) {
	max := 1
	scope := &did.KeyScope{
		Frameworks:     []string{"SOC2"},
		MaxAssurance:   &max,
		AllowedSources: []did.ProvenanceSource{did.SourceAuditor},
	}
	res := EvaluateScope(scopedPayload([]string{"SOC2", "HIPAA"}, 3, did.SourceSelf), scope)
	assert.False(t, res.ScopeValid)
	assert.Len(t, res.Violations, 3)
}
