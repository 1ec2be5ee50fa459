// Package verify checks credentials: JWT signature verification against
// trusted keys, required verifiable-credential claims, DID-resolved
// verification, and key-scope enforcement. Failure reasons follow a fixed
// order so callers can branch on them.
package verify

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/grcorsair/corsair/pkg/credential"
	"github.com/grcorsair/corsair/pkg/did"
)

// Failure reasons, in evaluation order.
const (
	ReasonSchemaInvalid    = "schema_invalid"
	ReasonExpired          = "expired"
	ReasonSignatureInvalid = "signature_invalid"
	ReasonEvidenceMismatch = "evidence_mismatch"
)

// Result is the verification outcome.
type Result struct {
	Valid       bool       `json:"valid"`
	Reason      string     `json:"reason,omitempty"`
	SignedBy    string     `json:"signedBy,omitempty"`
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`

	// Scope results are populated by VerifyViaDID.
	ScopeChecked    bool     `json:"scopeChecked,omitempty"`
	ScopeValid      bool     `json:"scopeValid,omitempty"`
	ScopeViolations []string `json:"scopeViolations,omitempty"`

	// Payload is the decoded credential on success.
	Payload *credential.Payload `json:"-"`
}

// Verify checks token against the trusted keys: structural shape, expiry,
// signature (first key that verifies wins), then the required vc claims.
func Verify(token string, trustedKeys []ed25519.PublicKey) *Result {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return &Result{Reason: ReasonSchemaInvalid}
	}

	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return &Result{Reason: ReasonSchemaInvalid}
	}
	var payload credential.Payload
	if err := json.Unmarshal(payloadRaw, &payload); err != nil {
		return &Result{Reason: ReasonSchemaInvalid}
	}

	result := &Result{SignedBy: payload.Issuer}
	if payload.IssuedAt != 0 {
		t := time.Unix(payload.IssuedAt, 0).UTC()
		result.GeneratedAt = &t
	}
	if payload.ExpiresAt != 0 {
		t := time.Unix(payload.ExpiresAt, 0).UTC()
		result.ExpiresAt = &t
	}

	if payload.ExpiresAt != 0 && time.Now().Unix() > payload.ExpiresAt {
		result.Reason = ReasonExpired
		return result
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		result.Reason = ReasonSchemaInvalid
		return result
	}
	signingInput := []byte(parts[0] + "." + parts[1])

	verified := false
	for _, key := range trustedKeys {
		if len(key) == ed25519.PublicKeySize && ed25519.Verify(key, signingInput, sig) {
			verified = true
			break
		}
	}
	if !verified {
		result.Reason = ReasonSignatureInvalid
		return result
	}

	if !contains(payload.VC.Context, credential.ContextCredentialsV2) ||
		!contains(payload.VC.Type, credential.TypeVerifiableCredential) ||
		isEmptySubject(&payload.VC.CredentialSubject) {
		result.Reason = ReasonSchemaInvalid
		return result
	}

	result.Valid = true
	result.Payload = &payload
	return result
}

// Resolver is the DID resolution surface VerifyViaDID depends on.
type Resolver interface {
	Resolve(ctx context.Context, didID string) *did.ResolutionResult
}

// VerifyViaDID reads the kid header, resolves the issuer's DID document,
// converts the matching JWK to a verification key, delegates to Verify, and
// enforces any key scope attached to the method.
func VerifyViaDID(ctx context.Context, token string, resolver Resolver) (*Result, error) {
	kid, err := headerKID(token)
	if err != nil {
		return &Result{Reason: ReasonSchemaInvalid}, nil
	}
	didID, _, err := did.SplitKID(kid)
	if err != nil {
		return &Result{Reason: ReasonSchemaInvalid}, nil
	}

	resolution := resolver.Resolve(ctx, didID)
	if resolution.DIDDocument == nil {
		return nil, fmt.Errorf("verify: DID resolution failed: %s", resolution.ResolutionMetadata.Error)
	}
	doc := resolution.DIDDocument

	method := doc.Method(kid)
	if method == nil || method.PublicKeyJwk == nil {
		return &Result{Reason: ReasonSignatureInvalid}, nil
	}
	pub, err := method.PublicKeyJwk.PublicKey()
	if err != nil {
		return &Result{Reason: ReasonSignatureInvalid}, nil
	}

	result := Verify(token, []ed25519.PublicKey{pub})
	if !result.Valid {
		return result, nil
	}

	scope := EnforceScope(result.Payload, doc, kid)
	result.ScopeChecked = scope.ScopeChecked
	result.ScopeValid = scope.ScopeValid
	result.ScopeViolations = scope.Violations
	return result, nil
}

func headerKID(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("verify: token is not a three-part JWT")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("verify: decode header: %w", err)
	}
	var header struct {
		KID string `json:"kid"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return "", fmt.Errorf("verify: parse header: %w", err)
	}
	if header.KID == "" {
		return "", fmt.Errorf("verify: header missing kid")
	}
	return header.KID, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func isEmptySubject(s *credential.Subject) bool {
	return s.Scope == "" && s.Provenance.Source == "" && len(s.Frameworks) == 0 &&
		s.Summary == (credential.Summary{})
}
