package scitt

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/grcorsair/corsair/pkg/canonical"
	"github.com/grcorsair/corsair/pkg/cosign1"
	"github.com/grcorsair/corsair/pkg/keys"
	"github.com/grcorsair/corsair/pkg/merkle"
)

func newLog(t *testing.T) (*Log, *keys.FileManager) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLStore(db)
	require.NoError(t, err)

	mgr, err := keys.NewFileManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, mgr.Generate())

	return NewLog(store, mgr, "urn:corsair:log:test"), mgr
}

func TestRegisterMonotonicity(t *testing.T) {
	log, _ := newLog(t)
	ctx := context.Background()

	statements := [][]byte{[]byte("s1"), []byte("s2"), []byte("s3")}
	var entries []*Entry
	for _, s := range statements {
		res, err := log.Register(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, "registered", res.Status)
		entries = append(entries, log.Entry(ctx, res.EntryID))
	}

	for i, e := range entries {
		require.NotNil(t, e)
		assert.Equal(t, int64(i+1), e.TreeSize)
		if i > 0 {
			assert.Greater(t, e.TreeSize, entries[i-1].TreeSize)
			assert.Equal(t, entries[i-1].TreeHash, e.ParentHash)
		} else {
			assert.Empty(t, e.ParentHash)
		}
	}

	// entry[j].treeHash equals the Merkle root over the first j statement
	// hashes.
	var hashes []string
	for j, s := range statements {
		hashes = append(hashes, canonical.HashBytes(s))
		root, err := merkle.Root(hashes)
		require.NoError(t, err)
		assert.Equal(t, root, entries[j].TreeHash)
	}
}

func TestRegisterEmptyStatement(t *testing.T) {
	log, _ := newLog(t)
	_, err := log.Register(context.Background(), nil)
	assert.Error(t, err)
}

func TestReceiptRoundTrip(t *testing.T) {
	log, mgr := newLog(t)
	ctx := context.Background()

	res1, err := log.Register(ctx, []byte("s1"))
	require.NoError(t, err)
	res2, err := log.Register(ctx, []byte("s2"))
	require.NoError(t, err)
	_, err = log.Register(ctx, []byte("s3"))
	require.NoError(t, err)

	r := log.GetReceipt(ctx, res2.EntryID)
	require.NotNil(t, r)
	assert.Equal(t, "urn:corsair:log:test", r.LogID)

	// The COSE proof verifies under the log's public key, and its payload
	// matches the recomputed Merkle root over [h(s1), h(s2)].
	payload, err := cosign1.VerifyFromBase64(r.Proof, mgr.Public())
	require.NoError(t, err)

	var rp ReceiptPayload
	require.NoError(t, json.Unmarshal(payload, &rp))
	assert.Equal(t, int64(2), rp.TreeSize)

	root, err := merkle.Root([]string{
		canonical.HashBytes([]byte("s1")),
		canonical.HashBytes([]byte("s2")),
	})
	require.NoError(t, err)
	assert.Equal(t, root, rp.TreeHash)

	assert.True(t, log.VerifyReceipt(ctx, res2.EntryID, mgr.Public()))
	assert.True(t, log.VerifyReceipt(ctx, res1.EntryID, mgr.Public()))
}

func TestGetReceiptUnknownReturnsNil(t *testing.T) {
	log, _ := newLog(t)
	assert.Nil(t, log.GetReceipt(context.Background(), "urn:corsair:scitt:missing"))
}

func TestVerifyReceiptWrongKey(t *testing.T) {
	log, _ := newLog(t)
	ctx := context.Background()
	res, err := log.Register(ctx, []byte("s1"))
	require.NoError(t, err)

	other, err := keys.NewFileManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, other.Generate())

	assert.False(t, log.VerifyReceipt(ctx, res.EntryID, other.Public()))
}

func TestListAndProfileFromInsertMetadata(t *testing.T) {
	log, _ := newLog(t)
	ctx := context.Background()

	// A fake vc+jwt: header.payload.signature with a decodable payload.
	payload := map[string]any{
		"iss": "did:web:proofs.example.com",
		"vc": map[string]any{
			"credentialSubject": map[string]any{
				"scope":      "prod-env",
				"provenance": map[string]any{"source": "tool"},
				"assurance":  map[string]any{"declared": float64(2)},
				"frameworks": map[string]any{
					"SOC2": map[string]any{},
					"NIST": map[string]any{},
				},
			},
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	token := "eyJhbGciOiJFZERTQSJ9." + base64.RawURLEncoding.EncodeToString(raw) + ".c2ln"

	_, err = log.Register(ctx, []byte(token))
	require.NoError(t, err)
	_, err = log.Register(ctx, []byte(`{"opaque":"receipt"}`))
	require.NoError(t, err)

	entries, err := log.List(ctx, ListOptions{Issuer: "did:web:proofs.example.com"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "prod-env", entries[0].Scope)
	assert.Equal(t, "tool", entries[0].Source)
	assert.Equal(t, 2, entries[0].Assurance)
	assert.Equal(t, "NIST,SOC2", entries[0].Frameworks)

	byFramework, err := log.List(ctx, ListOptions{Framework: "SOC2"})
	require.NoError(t, err)
	assert.Len(t, byFramework, 1)

	profile, err := log.Profile(ctx, "did:web:proofs.example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.EntryCount)
	assert.Equal(t, []string{"prod-env"}, profile.Scopes)
	assert.Equal(t, 1, profile.SourceCounts["tool"])
	assert.Equal(t, 1, profile.AssuranceCounts[2])
	assert.ElementsMatch(t, []string{"SOC2", "NIST"}, profile.Frameworks)
}
