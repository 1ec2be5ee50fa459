package discovery

import (
	"github.com/grcorsair/corsair/pkg/did"
	"github.com/grcorsair/corsair/pkg/keys"
)

// Content types of the well-known artefacts.
const (
	ContentTypeDID      = "application/did+ld+json"
	ContentTypeJWKS     = "application/jwk-set+json"
	ContentTypeTrustTXT = "text/plain"
)

// JWKS is the published key set.
type JWKS struct {
	Keys []did.JWK `json:"keys"`
}

// BuildJWKS exports the manager's current key plus its retired verify-only
// keys so consumers can validate older credentials across rotations.
func BuildJWKS(mgr *keys.FileManager) *JWKS {
	set := &JWKS{Keys: []did.JWK{keys.ExportJWK(mgr)}}
	for _, retired := range mgr.Retired() {
		jwk := did.JWKFromPublicKey(retired.PublicKey)
		jwk.Kid = retired.KeyRef
		set.Keys = append(set.Keys, jwk)
	}
	return set
}

// OnboardResult bundles the artefacts minted for a domain.
type OnboardResult struct {
	DIDDocument *did.Document `json:"didDocument"`
	JWKS        *JWKS         `json:"jwks"`
	TrustTXT    string        `json:"trustTxt"`
}

// Onboard mints the DID document, JWKS, and trust.txt for a domain.
func Onboard(mgr *keys.FileManager, domain string, scope *did.KeyScope, frameworks []string) *OnboardResult {
	doc := keys.GenerateDIDDocument(mgr, domain, scope)
	record := &TrustTXT{
		DID:        doc.ID,
		SCITT:      "https://" + domain + "/scitt",
		Frameworks: frameworks,
	}
	return &OnboardResult{
		DIDDocument: doc,
		JWKS:        BuildJWKS(mgr),
		TrustTXT:    record.Generate(),
	}
}
