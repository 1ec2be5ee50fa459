package did

import (
	"fmt"
	"strings"
)

// WebDID is a parsed did:web identifier.
type WebDID struct {
	// Domain is the decoded hostname, possibly with a port.
	Domain string
	// Path holds the optional path segments after the domain.
	Path []string
}

// EncodeWebDID builds a did:web identifier for a domain, percent-encoding
// any ":" (ports) in the first segment.
func EncodeWebDID(domain string) string {
	return "did:web:" + strings.ReplaceAll(domain, ":", "%3A")
}

// ParseWebDID parses "did:web:<domain>[:path...]". A %3A in the first
// segment is decoded back to ":" so ported domains round-trip.
func ParseWebDID(s string) (*WebDID, error) {
	const prefix = "did:web:"
	if !strings.HasPrefix(s, prefix) {
		return nil, fmt.Errorf("did: %q is not a did:web identifier", s)
	}

	rest := strings.TrimPrefix(s, prefix)
	if rest == "" {
		return nil, fmt.Errorf("did: empty method-specific id in %q", s)
	}

	segments := strings.Split(rest, ":")
	domain := strings.ReplaceAll(segments[0], "%3A", ":")
	if domain == "" {
		return nil, fmt.Errorf("did: empty domain in %q", s)
	}

	w := &WebDID{Domain: domain}
	for _, seg := range segments[1:] {
		if seg == "" {
			return nil, fmt.Errorf("did: empty path segment in %q", s)
		}
		w.Path = append(w.Path, seg)
	}
	return w, nil
}

// String re-encodes the identifier.
func (w *WebDID) String() string {
	parts := []string{EncodeWebDID(w.Domain)}
	parts = append(parts, w.Path...)
	return strings.Join(parts, ":")
}

// ResolutionURL is the HTTPS URL the DID document is fetched from:
// /.well-known/did.json for bare domains, /<path>/did.json otherwise.
func (w *WebDID) ResolutionURL() string {
	if len(w.Path) == 0 {
		return "https://" + w.Domain + "/.well-known/did.json"
	}
	return "https://" + w.Domain + "/" + strings.Join(w.Path, "/") + "/did.json"
}

// SplitKID splits "<did>#<keyref>" into the DID and the key reference.
func SplitKID(kid string) (didID, keyRef string, err error) {
	idx := strings.Index(kid, "#")
	if idx <= 0 || idx == len(kid)-1 {
		return "", "", fmt.Errorf("did: kid %q lacks a #keyref suffix", kid)
	}
	return kid[:idx], kid[idx+1:], nil
}
