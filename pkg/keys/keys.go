// Package keys manages the Ed25519 signing identity of an issuer: key
// generation, persistence, rotation, JWK import/export, DID document
// minting, and the key-attestation metadata carried in process receipts.
//
// Two managers exist. FileManager keeps the private key on disk and can
// sign synchronously. KMSManager holds only an opaque remote handle; every
// sign call is a network round trip and the private key is non-exportable.
package keys

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/grcorsair/corsair/pkg/did"
)

// ErrAsyncOnly reports that a caller requiring synchronous signing was given
// a manager that does not implement SyncSigner. No manager in this package
// returns it; KMSManager simply has no SignSync method.
var ErrAsyncOnly = errors.New("keys: manager signs asynchronously only")

// ErrNoKey is returned when no keypair has been generated yet.
var ErrNoKey = errors.New("keys: no keypair available")

// KeyAttestationInfo declares where the signing key lives. Receipts embed
// this so verifiers can distinguish HSM-held keys from file-backed ones.
type KeyAttestationInfo struct {
	Type          string `json:"type"`
	Provider      string `json:"provider"`
	NonExportable bool   `json:"nonExportable"`
}

// RetiredKey is a demoted public key kept for verification only.
type RetiredKey struct {
	PublicKey ed25519.PublicKey `json:"-"`
	KeyRef    string            `json:"keyRef"`
	RetiredAt time.Time         `json:"retiredAt"`
}

// Manager is the signing surface the rest of the pipeline consumes. Sign is
// asynchronous-capable (KMS round trips); callers that require local
// synchronous signing use SyncSigner and fail fast otherwise.
type Manager interface {
	// Sign signs data with the current key.
	Sign(ctx context.Context, data []byte) ([]byte, error)
	// Public returns the current public key.
	Public() ed25519.PublicKey
	// KeyRef returns the fragment identifying the current key in a DID
	// document ("key-1", "key-2" after rotation, ...).
	KeyRef() string
	// Attestation describes the key's custody for process receipts.
	Attestation() KeyAttestationInfo
}

// SyncSigner is implemented by managers whose private key is local.
type SyncSigner interface {
	SignSync(data []byte) ([]byte, error)
}

// Verify checks an Ed25519 signature. Works for current and retired keys.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// ExportJWK wraps a manager's current public key as a signing JWK with the
// manager's key reference as kid.
func ExportJWK(m Manager) did.JWK {
	jwk := did.JWKFromPublicKey(m.Public())
	jwk.Kid = m.KeyRef()
	return jwk
}

// ImportJWK decodes a JWK to raw public key bytes.
func ImportJWK(jwk did.JWK) (ed25519.PublicKey, error) {
	return jwk.PublicKey()
}

// GenerateDIDDocument mints a did:web document for domain carrying the
// manager's current key as the sole verification method, referenced from
// both authentication and assertionMethod. A non-nil scope is attached to
// the method.
func GenerateDIDDocument(m Manager, domain string, scope *did.KeyScope) *did.Document {
	id := did.EncodeWebDID(domain)
	kid := id + "#" + m.KeyRef()
	jwk := ExportJWK(m)
	jwk.Kid = kid

	return &did.Document{
		Context: []string{did.ContextDID, did.ContextJWS2020},
		ID:      id,
		VerificationMethod: []did.VerificationMethod{{
			ID:           kid,
			Type:         "JsonWebKey2020",
			Controller:   id,
			PublicKeyJwk: &jwk,
			KeyScope:     scope,
		}},
		Authentication:  []string{kid},
		AssertionMethod: []string{kid},
	}
}
