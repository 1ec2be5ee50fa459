package did

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport serves canned responses keyed by URL.
type fakeTransport struct {
	responses map[string]*http.Response
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, ok := f.responses[req.URL.String()]
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil))}, nil
	}
	return resp, nil
}

func jsonResponse(v any) *http.Response {
	raw, _ := json.Marshal(v)
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(raw)),
		Header:     http.Header{"Content-Type": []string{"application/did+ld+json"}},
	}
}

func publicLookup(t *testing.T) {
	t.Helper()
	orig := hostLookup
	hostLookup = func(string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	t.Cleanup(func() { hostLookup = orig })
}

func TestResolveHappyPath(t *testing.T) {
	publicLookup(t)

	doc := Document{
		Context: []string{ContextDID},
		ID:      "did:web:proofs.example.com",
	}
	r := NewResolver().WithHTTPClient(&http.Client{Transport: &fakeTransport{
		responses: map[string]*http.Response{
			"https://proofs.example.com/.well-known/did.json": jsonResponse(doc),
		},
	}})

	result := r.Resolve(context.Background(), "did:web:proofs.example.com")
	require.NotNil(t, result.DIDDocument)
	assert.Equal(t, "did:web:proofs.example.com", result.DIDDocument.ID)
	assert.Empty(t, result.ResolutionMetadata.Error)
}

func TestResolveInvalidDID(t *testing.T) {
	r := NewResolver()
	result := r.Resolve(context.Background(), "did:key:z6Mk")
	assert.Nil(t, result.DIDDocument)
	assert.Contains(t, result.ResolutionMetadata.Error, "invalidDid")
}

func TestResolveBlockedHost(t *testing.T) {
	r := NewResolver()
	result := r.Resolve(context.Background(), "did:web:169.254.169.254")
	assert.Nil(t, result.DIDDocument)
	assert.NotEmpty(t, result.ResolutionMetadata.Error)
}

func TestResolveNotFound(t *testing.T) {
	publicLookup(t)
	r := NewResolver().WithHTTPClient(&http.Client{Transport: &fakeTransport{}})
	result := r.Resolve(context.Background(), "did:web:proofs.example.com")
	assert.Nil(t, result.DIDDocument)
	assert.Contains(t, result.ResolutionMetadata.Error, "notFound")
}

func TestResolveMalformedDocument(t *testing.T) {
	publicLookup(t)
	r := NewResolver().WithHTTPClient(&http.Client{Transport: &fakeTransport{
		responses: map[string]*http.Response{
			"https://proofs.example.com/.well-known/did.json": {
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(bytes.NewReader([]byte("not json"))),
			},
		},
	}})
	result := r.Resolve(context.Background(), "did:web:proofs.example.com")
	assert.Nil(t, result.DIDDocument)
	assert.Contains(t, result.ResolutionMetadata.Error, "invalidDidDocument")
}

func TestFetchWellKnownRefusesHTTP(t *testing.T) {
	r := NewResolver()
	_, err := r.FetchWellKnown(context.Background(), "http://example.com/trust.txt")
	assert.Error(t, err)
}
