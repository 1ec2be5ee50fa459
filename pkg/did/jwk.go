package did

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/grcorsair/corsair/pkg/canonical"
)

// JWK is the Ed25519 (OKP) JSON Web Key subset the pipeline exchanges.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Kid string `json:"kid,omitempty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
}

// JWKFromPublicKey wraps an Ed25519 public key as a signing JWK.
func JWKFromPublicKey(pub ed25519.PublicKey) JWK {
	return JWK{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(pub),
		Use: "sig",
		Alg: "EdDSA",
	}
}

// PublicKey decodes the JWK back to raw Ed25519 public key bytes.
func (j JWK) PublicKey() (ed25519.PublicKey, error) {
	if j.Kty != "OKP" || j.Crv != "Ed25519" {
		return nil, fmt.Errorf("did: unsupported key type %s/%s", j.Kty, j.Crv)
	}
	raw, err := base64.RawURLEncoding.DecodeString(j.X)
	if err != nil {
		return nil, fmt.Errorf("did: decode jwk x: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("did: jwk x has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// Thumbprint computes the RFC 7638 thumbprint: SHA-256 over the canonical
// JSON of the required members. For OKP keys these are {crv, kty, x}; other
// key types fall back to the generic superset of present members.
func (j JWK) Thumbprint() (string, error) {
	var required any
	if j.Kty == "OKP" {
		required = map[string]string{"crv": j.Crv, "kty": j.Kty, "x": j.X}
	} else {
		members := map[string]string{"kty": j.Kty}
		if j.Crv != "" {
			members["crv"] = j.Crv
		}
		if j.X != "" {
			members["x"] = j.X
		}
		required = members
	}

	b, err := canonical.Marshal(required)
	if err != nil {
		return "", fmt.Errorf("did: thumbprint canonicalization: %w", err)
	}
	sum := sha256.Sum256(b)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
