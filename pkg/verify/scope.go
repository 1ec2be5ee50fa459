package verify

import (
	"fmt"
	"sort"

	"github.com/grcorsair/corsair/pkg/credential"
	"github.com/grcorsair/corsair/pkg/did"
)

// ScopeResult is the outcome of key-scope enforcement.
type ScopeResult struct {
	// ScopeChecked is false when the method carries no scope — constraints
	// are additive, so unscoped keys accept every credential.
	ScopeChecked bool     `json:"scopeChecked"`
	ScopeValid   bool     `json:"scopeValid"`
	Violations   []string `json:"violations,omitempty"`
}

// EnforceScope looks up the scope attached to kid in doc and evaluates the
// four constraints against the decoded credential, collecting every
// violation.
func EnforceScope(p *credential.Payload, doc *did.Document, kid string) *ScopeResult {
	scope := doc.ScopeFor(kid)
	if scope == nil {
		return &ScopeResult{ScopeChecked: false, ScopeValid: true}
	}
	return EvaluateScope(p, scope)
}

// EvaluateScope applies a key scope to a decoded credential.
func EvaluateScope(p *credential.Payload, scope *did.KeyScope) *ScopeResult {
	result := &ScopeResult{ScopeChecked: true, ScopeValid: true}
	fail := func(format string, args ...any) {
		result.ScopeValid = false
		result.Violations = append(result.Violations, fmt.Sprintf(format, args...))
	}

	subject := p.VC.CredentialSubject

	if len(scope.Frameworks) > 0 {
		allowed := make(map[string]bool, len(scope.Frameworks))
		for _, fw := range scope.Frameworks {
			allowed[fw] = true
		}
		names := make([]string, 0, len(subject.Frameworks))
		for fw := range subject.Frameworks {
			names = append(names, fw)
		}
		sort.Strings(names)
		for _, fw := range names {
			if !allowed[fw] {
				fail("framework %q is outside this key's scope", fw)
			}
		}
	}

	if scope.MaxAssurance != nil && subject.Assurance.Declared > *scope.MaxAssurance {
		fail("CPOE assurance level %d exceeds attestation maxAssurance %d",
			subject.Assurance.Declared, *scope.MaxAssurance)
	}

	if len(scope.AllowedSources) > 0 {
		allowed := false
		for _, src := range scope.AllowedSources {
			if subject.Provenance.Source == src {
				allowed = true
				break
			}
		}
		if !allowed {
			fail("provenance source %q is outside this key's scope", subject.Provenance.Source)
		}
	}

	if len(scope.Purpose) > 0 {
		canSign := false
		for _, purpose := range scope.Purpose {
			if purpose == did.PurposeSign {
				canSign = true
				break
			}
		}
		if !canSign {
			fail("key purpose does not include %q", did.PurposeSign)
		}
	}

	return result
}
