// Package did implements the DNS-rooted web-DID method used by the
// pipeline: document types, JWK handling, did:web parsing, and an
// SSRF-guarded resolver. Per-key scope constraints (the CAA-style
// extension) ride on verification methods.
package did

// ContextDID is the base DID JSON-LD context.
const ContextDID = "https://www.w3.org/ns/did/v1"

// ContextJWS2020 is the JSON Web Signature 2020 suite context.
const ContextJWS2020 = "https://w3id.org/security/suites/jws-2020/v1"

// Document is a did:web DID document.
type Document struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication,omitempty"`
	AssertionMethod    []string             `json:"assertionMethod,omitempty"`
}

// VerificationMethod binds a key to a DID document.
type VerificationMethod struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Controller   string    `json:"controller"`
	PublicKeyJwk *JWK      `json:"publicKeyJwk,omitempty"`
	KeyScope     *KeyScope `json:"keyScope,omitempty"`
}

// ProvenanceSource enumerates who produced a piece of evidence.
type ProvenanceSource string

const (
	SourceSelf    ProvenanceSource = "self"
	SourceTool    ProvenanceSource = "tool"
	SourceAuditor ProvenanceSource = "auditor"
)

// KeyPurpose enumerates what a scoped key may be used for.
type KeyPurpose string

const (
	PurposeSign   KeyPurpose = "sign"
	PurposeAttest KeyPurpose = "attest"
	PurposeRevoke KeyPurpose = "revoke"
)

// KeyScope restricts what a verification key may sign. All fields are
// optional; an absent field means "no constraint". Verifiers that do not
// understand scope still accept signatures — constraints are additive.
type KeyScope struct {
	Frameworks     []string           `json:"frameworks,omitempty"`
	MaxAssurance   *int               `json:"maxAssurance,omitempty"`
	AllowedSources []ProvenanceSource `json:"allowedSources,omitempty"`
	Purpose        []KeyPurpose       `json:"purpose,omitempty"`
}

// Method returns the verification method with the given id, or nil.
func (d *Document) Method(kid string) *VerificationMethod {
	for i := range d.VerificationMethod {
		if d.VerificationMethod[i].ID == kid {
			return &d.VerificationMethod[i]
		}
	}
	return nil
}

// ScopeFor returns the key scope attached to kid, or nil when the method is
// unknown or carries no scope.
func (d *Document) ScopeFor(kid string) *KeyScope {
	m := d.Method(kid)
	if m == nil {
		return nil
	}
	return m.KeyScope
}
