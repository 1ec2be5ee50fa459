package verify

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grcorsair/corsair/pkg/credential"
	"github.com/grcorsair/corsair/pkg/did"
	"github.com/grcorsair/corsair/pkg/evidence"
	"github.com/grcorsair/corsair/pkg/keys"
)

const issuerDID = "did:web:proofs.example.com"

func issue(t *testing.T, mgr *keys.FileManager, expiryDays int) string {
	t.Helper()
	gen := credential.NewGenerator(mgr, nil)
	result, err := gen.Issue(context.Background(), credential.IssueRequest{
		Evidence: &evidence.Normalized{
			Document: evidence.Document{
				Title:      "scan",
				Provenance: evidence.Provenance{Source: did.SourceTool, SourceIdentity: "prowler"},
			},
			Scope:     "prod",
			Assurance: 1,
			Controls: []evidence.Control{
				{ID: "CC1.1", Framework: "SOC2", Status: evidence.StatusEffective},
				{ID: "CC1.2", Framework: "SOC2", Status: evidence.StatusEffective},
				{ID: "CC2.1", Framework: "SOC2", Status: evidence.StatusIneffective},
			},
		},
		IssuerDID:  issuerDID,
		ExpiryDays: expiryDays,
	})
	require.NoError(t, err)
	return result.JWT
}

func newManager(t *testing.T) *keys.FileManager {
	t.Helper()
	m, err := keys.NewFileManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, m.Generate())
	return m
}

func TestVerifyHappyPath(t *testing.T) {
	mgr := newManager(t)
	token := issue(t, mgr, 90)

	result := Verify(token, []ed25519.PublicKey{mgr.Public()})
	assert.True(t, result.Valid)
	assert.Empty(t, result.Reason)
	assert.Equal(t, issuerDID, result.SignedBy)
	require.NotNil(t, result.GeneratedAt)
	require.NotNil(t, result.ExpiresAt)
	require.NotNil(t, result.Payload)
	assert.Equal(t, 67, result.Payload.VC.CredentialSubject.Summary.OverallScore)
}

func TestVerifyMalformedToken(t *testing.T) {
	mgr := newManager(t)
	result := Verify("only.two", []ed25519.PublicKey{mgr.Public()})
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonSchemaInvalid, result.Reason)
}

func TestVerifyExpired(t *testing.T) {
	mgr := newManager(t)
	token := issue(t, mgr, -1)

	result := Verify(token, []ed25519.PublicKey{mgr.Public()})
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonExpired, result.Reason)
}

func TestVerifyWrongKey(t *testing.T) {
	mgr := newManager(t)
	other := newManager(t)
	token := issue(t, mgr, 90)

	result := Verify(token, []ed25519.PublicKey{other.Public()})
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonSignatureInvalid, result.Reason)
}

func TestVerifyTamperedPayload(t *testing.T) {
	mgr := newManager(t)
	token := issue(t, mgr, 90)

	parts := strings.Split(token, ".")
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	vc := payload["vc"].(map[string]any)
	subject := vc["credentialSubject"].(map[string]any)
	summary := subject["summary"].(map[string]any)
	summary["overallScore"] = float64(100)
	mutated, err := json.Marshal(payload)
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString(mutated)

	result := Verify(strings.Join(parts, "."), []ed25519.PublicKey{mgr.Public()})
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonSignatureInvalid, result.Reason)
}

// Rotated key: old signature fails under the new key alone, passes when the
// retired key is still trusted.
func TestVerifyAfterRotation(t *testing.T) {
	mgr := newManager(t)
	token := issue(t, mgr, 90)

	newPub, retired, err := mgr.Rotate()
	require.NoError(t, err)

	result := Verify(token, []ed25519.PublicKey{newPub})
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonSignatureInvalid, result.Reason)

	result = Verify(token, []ed25519.PublicKey{newPub, retired})
	assert.True(t, result.Valid)
}

type staticResolver struct {
	doc *did.Document
}

func (s *staticResolver) Resolve(context.Context, string) *did.ResolutionResult {
	if s.doc == nil {
		return &did.ResolutionResult{ResolutionMetadata: did.ResolutionMetadata{Error: "notFound: unreachable"}}
	}
	return &did.ResolutionResult{DIDDocument: s.doc}
}

func TestVerifyViaDID(t *testing.T) {
	mgr := newManager(t)
	token := issue(t, mgr, 90)
	doc := keys.GenerateDIDDocument(mgr, "proofs.example.com", nil)

	result, err := VerifyViaDID(context.Background(), token, &staticResolver{doc: doc})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.False(t, result.ScopeChecked)
	assert.True(t, result.ScopeValid)
}

func TestVerifyViaDIDResolutionFailure(t *testing.T) {
	mgr := newManager(t)
	token := issue(t, mgr, 90)

	_, err := VerifyViaDID(context.Background(), token, &staticResolver{})
	assert.Error(t, err)
}

func TestVerifyViaDIDWithScope(t *testing.T) {
	mgr := newManager(t)
	token := issue(t, mgr, 90)

	maxAssurance := 0
	doc := keys.GenerateDIDDocument(mgr, "proofs.example.com", &did.KeyScope{
		Frameworks:   []string{"SOC2"},
		MaxAssurance: &maxAssurance, // credential declares 1
	})

	result, err := VerifyViaDID(context.Background(), token, &staticResolver{doc: doc})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.True(t, result.ScopeChecked)
	assert.False(t, result.ScopeValid)
	assert.NotEmpty(t, result.ScopeViolations)
}
