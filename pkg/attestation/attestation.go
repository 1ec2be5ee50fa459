// Package attestation implements the three-link key attestation chain:
// a root authority attests an organisation's key (binding the key's RFC
// 7638 thumbprint plus a scope and validity window), and verification walks
// root key → attestation → organisation key → credential, the way X.509
// path validation walks a certificate chain.
package attestation

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/grcorsair/corsair/pkg/credential"
	"github.com/grcorsair/corsair/pkg/did"
	"github.com/grcorsair/corsair/pkg/keys"
	"github.com/grcorsair/corsair/pkg/verify"
)

// JWTType is the JOSE typ header of attestation tokens.
const JWTType = "attestation+jwt"

// Trust levels reported by VerifyChain.
const (
	TrustChainVerified = "chain-verified"
	TrustInvalid       = "invalid"
)

// Claims is the attestation payload: the root binds the org's DID to its
// key thumbprint, a scope, and a validity window.
type Claims struct {
	Issuer        string        `json:"iss"` // root DID
	Subject       string        `json:"sub"` // org DID
	IssuedAt      int64         `json:"iat"`
	ExpiresAt     int64         `json:"exp"`
	KeyThumbprint string        `json:"keyThumbprint"`
	KeyScope      *did.KeyScope `json:"keyScope,omitempty"`
}

// AttestOrgKey signs an attestation binding orgDID's public key (as a JWK
// thumbprint) under the root key, valid for validityDays.
func AttestOrgKey(ctx context.Context, orgDID string, orgKey did.JWK, scope *did.KeyScope,
	rootMgr keys.Manager, rootDID string, validityDays int) (string, error) {
	if validityDays <= 0 {
		return "", fmt.Errorf("attestation: validityDays must be positive")
	}
	thumbprint, err := orgKey.Thumbprint()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss":           rootDID,
		"sub":           orgDID,
		"iat":           now.Unix(),
		"exp":           now.Add(time.Duration(validityDays) * 24 * time.Hour).Unix(),
		"keyThumbprint": thumbprint,
	}
	if scope != nil {
		scopeMap, err := toMap(scope)
		if err != nil {
			return "", fmt.Errorf("attestation: encode scope: %w", err)
		}
		claims["keyScope"] = scopeMap
	}

	token := jwt.NewWithClaims(credential.ManagerSigningMethod(ctx, rootMgr), claims)
	token.Header["typ"] = JWTType
	token.Header["kid"] = rootDID + "#" + rootMgr.KeyRef()

	signed, err := token.SignedString(nil)
	if err != nil {
		return "", fmt.Errorf("attestation: sign: %w", err)
	}
	return signed, nil
}

// ChainResult reports the outcome of a chain verification. Chain lists the
// links that were established before verification stopped.
type ChainResult struct {
	TrustLevel string   `json:"trustLevel"`
	Chain      []string `json:"chain"`
	Reason     string   `json:"reason,omitempty"`
}

// VerifyChain validates root key → attestation → org key → credential:
//  1. the attestation verifies under the root key;
//  2. the org key's recomputed thumbprint equals the attested value;
//  3. the credential verifies under the org key;
//  4. the attested scope admits the credential.
func VerifyChain(credentialJWT, attestationJWT string, rootPub, orgPub ed25519.PublicKey) *ChainResult {
	claims, err := verifyAttestation(attestationJWT, rootPub)
	if err != nil {
		return &ChainResult{
			TrustLevel: TrustInvalid,
			Chain:      []string{"root"},
			Reason:     err.Error(),
		}
	}

	thumbprint, err := did.JWKFromPublicKey(orgPub).Thumbprint()
	if err != nil || thumbprint != claims.KeyThumbprint {
		return &ChainResult{
			TrustLevel: TrustInvalid,
			Chain:      []string{"root"},
			Reason:     "organisation key thumbprint does not match attestation",
		}
	}

	credResult := verify.Verify(credentialJWT, []ed25519.PublicKey{orgPub})
	if !credResult.Valid {
		return &ChainResult{
			TrustLevel: TrustInvalid,
			Chain:      []string{"root", "attestation"},
			Reason:     "credential verification failed: " + credResult.Reason,
		}
	}

	if claims.KeyScope != nil {
		scopeResult := verify.EvaluateScope(credResult.Payload, claims.KeyScope)
		if !scopeResult.ScopeValid {
			return &ChainResult{
				TrustLevel: TrustInvalid,
				Chain:      []string{"root", "attestation"},
				Reason:     strings.Join(scopeResult.Violations, "; "),
			}
		}
	}

	return &ChainResult{
		TrustLevel: TrustChainVerified,
		Chain:      []string{"root", "attestation", "credential"},
	}
}

func verifyAttestation(token string, rootPub ed25519.PublicKey) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("attestation is not a three-part JWT")
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("attestation signature malformed")
	}
	if !ed25519.Verify(rootPub, []byte(parts[0]+"."+parts[1]), sig) {
		return nil, fmt.Errorf("attestation signature invalid under root key")
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("attestation payload malformed")
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("attestation claims malformed")
	}
	if claims.ExpiresAt != 0 && time.Now().Unix() > claims.ExpiresAt {
		return nil, fmt.Errorf("attestation expired")
	}
	if claims.KeyThumbprint == "" {
		return nil, fmt.Errorf("attestation missing key thumbprint")
	}
	return &claims, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
