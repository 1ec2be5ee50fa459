package did

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebDID(t *testing.T) {
	w, err := ParseWebDID("did:web:proofs.example.com")
	require.NoError(t, err)
	assert.Equal(t, "proofs.example.com", w.Domain)
	assert.Empty(t, w.Path)
	assert.Equal(t, "https://proofs.example.com/.well-known/did.json", w.ResolutionURL())
}

func TestParseWebDIDWithPort(t *testing.T) {
	w, err := ParseWebDID("did:web:proofs.example.com%3A8443")
	require.NoError(t, err)
	assert.Equal(t, "proofs.example.com:8443", w.Domain)
	assert.Equal(t, "https://proofs.example.com:8443/.well-known/did.json", w.ResolutionURL())
	assert.Equal(t, "did:web:proofs.example.com%3A8443", w.String())
}

func TestParseWebDIDWithPath(t *testing.T) {
	w, err := ParseWebDID("did:web:example.com:users:alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"users", "alice"}, w.Path)
	assert.Equal(t, "https://example.com/users/alice/did.json", w.ResolutionURL())
}

func TestParseWebDIDErrors(t *testing.T) {
	for _, bad := range []string{"did:key:z6Mk", "did:web:", "did:web:example.com::x", "example.com"} {
		_, err := ParseWebDID(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestSplitKID(t *testing.T) {
	didID, ref, err := SplitKID("did:web:example.com#key-1")
	require.NoError(t, err)
	assert.Equal(t, "did:web:example.com", didID)
	assert.Equal(t, "key-1", ref)

	for _, bad := range []string{"did:web:example.com", "did:web:example.com#", "#key-1"} {
		_, _, err := SplitKID(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestCheckHostAllowedBlocks(t *testing.T) {
	blocked := []string{
		"127.0.0.1",
		"localhost", // resolves to loopback
		"10.1.2.3",
		"172.16.5.5",
		"192.168.1.1",
		"169.254.169.254", // cloud metadata
		"0.0.0.0",
		"[::1]:443",
	}
	for _, host := range blocked {
		assert.Error(t, CheckHostAllowed(host), "host %q should be blocked", host)
	}
}

func TestCheckHostAllowedPublicLiteral(t *testing.T) {
	assert.NoError(t, CheckHostAllowed("93.184.216.34"))
	assert.NoError(t, CheckHostAllowed("93.184.216.34:8443"))
}

func TestCheckHostAllowedUsesLookup(t *testing.T) {
	orig := hostLookup
	defer func() { hostLookup = orig }()

	hostLookup = func(string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("10.0.0.5")}, nil
	}
	assert.Error(t, CheckHostAllowed("internal.example.com"))

	hostLookup = func(string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	assert.NoError(t, CheckHostAllowed("public.example.com"))
}

func TestJWKRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	jwk := JWKFromPublicKey(pub)
	assert.Equal(t, "OKP", jwk.Kty)
	assert.Equal(t, "Ed25519", jwk.Crv)

	got, err := jwk.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, pub, got)
}

func TestJWKRejectsWrongType(t *testing.T) {
	_, err := (JWK{Kty: "EC", Crv: "P-256"}).PublicKey()
	assert.Error(t, err)
}

func TestThumbprintIgnoresOptionalMembers(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	j1 := JWKFromPublicKey(pub)
	j2 := JWKFromPublicKey(pub)
	j2.Kid = "some-kid"
	j2.Use = ""

	t1, err := j1.Thumbprint()
	require.NoError(t, err)
	t2, err := j2.Thumbprint()
	require.NoError(t, err)
	assert.Equal(t, t1, t2)
}

func TestDocumentScopeLookup(t *testing.T) {
	max := 2
	doc := &Document{
		ID: "did:web:example.com",
		VerificationMethod: []VerificationMethod{
			{ID: "did:web:example.com#key-1", KeyScope: &KeyScope{MaxAssurance: &max}},
			{ID: "did:web:example.com#key-2"},
		},
	}

	scope := doc.ScopeFor("did:web:example.com#key-1")
	require.NotNil(t, scope)
	assert.Equal(t, 2, *scope.MaxAssurance)

	assert.Nil(t, doc.ScopeFor("did:web:example.com#key-2"))
	assert.Nil(t, doc.ScopeFor("did:web:example.com#missing"))
}
