package receipts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grcorsair/corsair/pkg/keys"
	"github.com/grcorsair/corsair/pkg/merkle"
)

func newManager(t *testing.T) *keys.FileManager {
	t.Helper()
	m, err := keys.NewFileManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, m.Generate())
	return m
}

func captureInput(step string, start, finish time.Time) GenerateInput {
	return GenerateInput{
		Step:           step,
		InputData:      map[string]string{"in": step},
		OutputData:     map[string]string{"out": step},
		BuilderID:      "corsair-generator",
		BuilderVersion: "1.4.0",
		Reproducible:   true,
		StartedOn:      start,
		FinishedOn:     finish,
	}
}

func TestGenerateAndVerify(t *testing.T) {
	mgr := newManager(t)
	stmt, err := Generate(context.Background(), captureInput("classify", time.Now(), time.Now()), mgr)
	require.NoError(t, err)

	assert.Equal(t, StatementType, stmt.Type)
	assert.Equal(t, PredicateType, stmt.PredicateType)
	assert.NotEmpty(t, stmt.Signature)
	require.Len(t, stmt.Subject, 1)
	assert.Equal(t, "classify", stmt.Subject[0].Name)
	require.NotNil(t, stmt.Predicate.Builder.KeyAttestation)
	assert.Equal(t, "file", stmt.Predicate.Builder.KeyAttestation.Provider)

	vr, err := Verify(stmt, mgr.Public())
	require.NoError(t, err)
	assert.True(t, vr.Verified)
}

func TestGenerateRejectsBadSemver(t *testing.T) {
	mgr := newManager(t)
	in := captureInput("classify", time.Now(), time.Now())
	in.BuilderVersion = "not-a-version"
	_, err := Generate(context.Background(), in, mgr)
	assert.Error(t, err)
}

func TestVerifyWrongKeyFails(t *testing.T) {
	mgr := newManager(t)
	other := newManager(t)

	stmt, err := Generate(context.Background(), captureInput("classify", time.Now(), time.Now()), mgr)
	require.NoError(t, err)

	vr, err := Verify(stmt, other.Public())
	require.NoError(t, err)
	assert.False(t, vr.Verified)
}

// Setting signature and scittEntryId post-hoc must not alter the body
// hash; altering any other field must.
func TestBodyHashSignatureCoverage(t *testing.T) {
	mgr := newManager(t)
	stmt, err := Generate(context.Background(), captureInput("classify", time.Now(), time.Now()), mgr)
	require.NoError(t, err)

	h1, err := BodyHash(stmt)
	require.NoError(t, err)

	stmt.Signature = "replaced"
	stmt.SCITTEntryID = "entry-42"
	h2, err := BodyHash(stmt)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	stmt.Predicate.Step = "mutated"
	h3, err := BodyHash(stmt)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestVerifyDetectsMutation(t *testing.T) {
	mgr := newManager(t)
	stmt, err := Generate(context.Background(), captureInput("classify", time.Now(), time.Now()), mgr)
	require.NoError(t, err)

	stmt.Predicate.Reproducible = false
	vr, err := Verify(stmt, mgr.Public())
	require.NoError(t, err)
	assert.False(t, vr.Verified)
}

type fakeRegistry struct {
	n      int
	failAt int
}

func (f *fakeRegistry) RegisterStatement(context.Context, []byte) (string, error) {
	f.n++
	if f.failAt > 0 && f.n == f.failAt {
		return "", fmt.Errorf("registry unavailable")
	}
	return fmt.Sprintf("urn:scitt:entry:%d", f.n), nil
}

func TestChainCaptureLinksAndRegisters(t *testing.T) {
	mgr := newManager(t)
	reg := &fakeRegistry{}
	chain := NewChain(mgr, reg)

	base := time.Now().UTC()
	r1, err := chain.Capture(context.Background(), captureInput("classify", base, base.Add(time.Second)))
	require.NoError(t, err)
	r2, err := chain.Capture(context.Background(), captureInput("chart", base.Add(2*time.Second), base.Add(3*time.Second)))
	require.NoError(t, err)

	assert.Nil(t, r1.Predicate.PreviousReceipt)
	require.NotNil(t, r2.Predicate.PreviousReceipt)

	h1, err := BodyHash(r1)
	require.NoError(t, err)
	assert.Equal(t, h1, r2.Predicate.PreviousReceipt.BodyHash)
	assert.Equal(t, r1.SCITTEntryID, r2.Predicate.PreviousReceipt.SCITTEntryID)

	assert.Equal(t, []string{"urn:scitt:entry:1", "urn:scitt:entry:2"}, chain.EntryIDs())
}

func TestChainRegistryFailureIsNonFatal(t *testing.T) {
	mgr := newManager(t)
	chain := NewChain(mgr, &fakeRegistry{failAt: 1})

	r, err := chain.Capture(context.Background(), captureInput("classify", time.Now(), time.Now()))
	require.NoError(t, err)
	assert.Empty(t, r.SCITTEntryID)
}

func TestChainDigestEmptyFails(t *testing.T) {
	chain := NewChain(newManager(t), nil)
	_, err := chain.Digest()
	assert.Error(t, err)
}

func TestChainDigestIsMerkleRoot(t *testing.T) {
	mgr := newManager(t)
	chain := NewChain(mgr, nil)

	base := time.Now().UTC()
	for i, step := range []string{"classify", "chart", "sign"} {
		_, err := chain.Capture(context.Background(),
			captureInput(step, base.Add(time.Duration(i)*time.Second), base.Add(time.Duration(i)*time.Second+500*time.Millisecond)))
		require.NoError(t, err)
	}

	var hashes []string
	for _, r := range chain.Receipts() {
		h, err := BodyHash(r)
		require.NoError(t, err)
		hashes = append(hashes, h)
	}
	expected, err := merkle.Root(hashes)
	require.NoError(t, err)

	digest, err := chain.Digest()
	require.NoError(t, err)
	assert.Equal(t, expected, digest)
}

func TestVerifyChainHappyPath(t *testing.T) {
	mgr := newManager(t)
	chain := NewChain(mgr, &fakeRegistry{})

	base := time.Now().UTC()
	in1 := captureInput("classify", base, base.Add(time.Second))
	in1.Tool = &ToolAttestation{Tool: "prowler", Version: "4.2.1"}
	_, err := chain.Capture(context.Background(), in1)
	require.NoError(t, err)

	in2 := captureInput("chart", base.Add(2*time.Second), base.Add(3*time.Second))
	in2.LLM = &LLMAttestation{Model: "gpt", PromptDigest: "abc", Temperature: 0}
	_, err = chain.Capture(context.Background(), in2)
	require.NoError(t, err)

	result, err := VerifyChain(chain.Receipts(), mgr.Public())
	require.NoError(t, err)
	assert.True(t, result.ChainValid)
	assert.Equal(t, 2, result.TotalReceipts)
	assert.Equal(t, 2, result.VerifiedSignatures)
	assert.Equal(t, 2, result.ReproducibleSteps)
	assert.Equal(t, 1, result.ToolAttestedSteps)
	assert.Equal(t, 1, result.LLMAttestedSteps)
	assert.Equal(t, 2, result.SCITTRegisteredSteps)
	assert.NotEmpty(t, result.ChainDigest)
	assert.Empty(t, result.Errors)
}

func TestVerifyChainDetectsBrokenLink(t *testing.T) {
	mgr := newManager(t)
	chain := NewChain(mgr, nil)

	base := time.Now().UTC()
	_, err := chain.Capture(context.Background(), captureInput("classify", base, base.Add(time.Second)))
	require.NoError(t, err)
	_, err = chain.Capture(context.Background(), captureInput("chart", base.Add(2*time.Second), base.Add(3*time.Second)))
	require.NoError(t, err)

	stmts := chain.Receipts()
	stmts[1].Predicate.PreviousReceipt.BodyHash = "0000"

	result, err := VerifyChain(stmts, mgr.Public())
	require.NoError(t, err)
	assert.False(t, result.ChainValid)
	assert.NotEmpty(t, result.Errors)
}

func TestVerifyChainDetectsTemporalViolation(t *testing.T) {
	mgr := newManager(t)
	chain := NewChain(mgr, nil)

	base := time.Now().UTC()
	_, err := chain.Capture(context.Background(), captureInput("classify", base, base.Add(10*time.Second)))
	require.NoError(t, err)
	// Second step starts before the first finished.
	_, err = chain.Capture(context.Background(), captureInput("chart", base.Add(time.Second), base.Add(2*time.Second)))
	require.NoError(t, err)

	result, err := VerifyChain(chain.Receipts(), mgr.Public())
	require.NoError(t, err)
	assert.False(t, result.ChainValid)
}

func TestVerifyChainEmpty(t *testing.T) {
	mgr := newManager(t)
	result, err := VerifyChain(nil, mgr.Public())
	require.NoError(t, err)
	assert.False(t, result.ChainValid)
}
