// Package discovery builds and consumes the well-known artefacts verifiers
// bootstrap from: trust.txt, DID documents, and JWKS key sets.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/grcorsair/corsair/pkg/did"
	"github.com/grcorsair/corsair/pkg/poerr"
)

// SpecURL is referenced from the generated trust.txt banner.
const SpecURL = "https://grcorsair.com/spec/trust-txt"

// TrustTXT is a parsed trust.txt record.
type TrustTXT struct {
	DID        string
	CPOE       []string
	SCITT      string
	Catalog    string
	Flagship   string
	Contact    string
	Expires    string
	Frameworks []string
}

// Parse reads the line-oriented trust.txt grammar: comments start with '#',
// keys are case-insensitive, unknown keys are ignored for forward
// compatibility, CPOE is repeatable.
func Parse(raw string) *TrustTXT {
	t := &TrustTXT{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "did":
			t.DID = value
		case "cpoe":
			t.CPOE = append(t.CPOE, value)
		case "scitt":
			t.SCITT = value
		case "catalog":
			t.Catalog = value
		case "flagship":
			t.Flagship = value
		case "contact":
			t.Contact = value
		case "expires":
			t.Expires = value
		case "frameworks":
			for _, fw := range strings.Split(value, ",") {
				if fw = strings.TrimSpace(fw); fw != "" {
					t.Frameworks = append(t.Frameworks, fw)
				}
			}
		}
	}
	return t
}

// Generate emits trust.txt with the banner comment and known keys in fixed
// order.
func (t *TrustTXT) Generate() string {
	var b strings.Builder
	b.WriteString("# trust.txt — machine-readable trust disclosure\n")
	b.WriteString("# Spec: " + SpecURL + "\n")

	writeKV := func(key, value string) {
		if value != "" {
			b.WriteString(key + ": " + value + "\n")
		}
	}
	writeKV("DID", t.DID)
	for _, c := range t.CPOE {
		writeKV("CPOE", c)
	}
	writeKV("SCITT", t.SCITT)
	writeKV("CATALOG", t.Catalog)
	writeKV("FLAGSHIP", t.Flagship)
	if len(t.Frameworks) > 0 {
		writeKV("Frameworks", strings.Join(t.Frameworks, ", "))
	}
	writeKV("Contact", t.Contact)
	writeKV("Expires", t.Expires)
	return b.String()
}

// Validate enforces the record invariants: a did:web identifier, HTTPS URLs
// resolving to non-blocked hosts, and a parseable future Expires.
func (t *TrustTXT) Validate() error {
	if t.DID == "" {
		return poerr.New(poerr.ClassInput, "trust.txt: DID required")
	}
	if _, err := did.ParseWebDID(t.DID); err != nil {
		return poerr.Wrap(poerr.ClassInput, "trust.txt: DID must be did:web", err)
	}

	urls := append([]string{}, t.CPOE...)
	for _, u := range []string{t.SCITT, t.Catalog, t.Flagship} {
		if u != "" {
			urls = append(urls, u)
		}
	}
	for _, raw := range urls {
		if err := checkURL(raw); err != nil {
			return err
		}
	}

	if t.Expires != "" {
		expires, err := time.Parse(time.RFC3339, t.Expires)
		if err != nil {
			return poerr.Wrap(poerr.ClassInput, "trust.txt: Expires not ISO 8601", err)
		}
		if expires.Before(time.Now()) {
			return poerr.New(poerr.ClassExpired, "trust.txt: record expired")
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return poerr.Wrap(poerr.ClassInput, fmt.Sprintf("trust.txt: bad url %q", raw), err)
	}
	if u.Scheme != "https" {
		return poerr.Newf(poerr.ClassInput, "trust.txt: url %q is not HTTPS", raw)
	}
	if err := did.CheckHostAllowed(u.Host); err != nil {
		return poerr.Wrap(poerr.ClassResolution, fmt.Sprintf("trust.txt: url %q blocked", raw), err)
	}
	return nil
}

// Resolve fetches https://<domain>/.well-known/trust.txt with the same
// SSRF safeguards as DID resolution and parses it.
func Resolve(ctx context.Context, resolver *did.Resolver, domain string) (*TrustTXT, error) {
	body, err := resolver.FetchWellKnown(ctx, "https://"+domain+"/.well-known/trust.txt")
	if err != nil {
		return nil, poerr.Wrap(poerr.ClassResolution, "trust.txt fetch failed", err)
	}
	return Parse(string(body)), nil
}
