package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/grcorsair/corsair/pkg/did"
	"github.com/grcorsair/corsair/pkg/evidence"
	"github.com/grcorsair/corsair/pkg/evidencelog"
	"github.com/grcorsair/corsair/pkg/keys"
	"github.com/grcorsair/corsair/pkg/poerr"
	"github.com/grcorsair/corsair/pkg/receipts"
	"github.com/grcorsair/corsair/pkg/redact"
)

var (
	errSummaryArithmetic = errors.New("credential: controlsPassed+controlsFailed exceeds controlsTested")
	errScoreBounds       = errors.New("credential: overallScore outside [0,100]")
	errValidityWindow    = errors.New("credential: validUntil must be after validFrom")
)

// GeneratorVersion is stamped into process receipts as the builder version.
const GeneratorVersion = "1.4.0"

// Generator turns normalized evidence into signed credentials.
type Generator struct {
	mgr      keys.Manager
	registry receipts.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewGenerator creates a generator signing with mgr. registry may be nil;
// without one no transparency-log registration happens.
func NewGenerator(mgr keys.Manager, registry receipts.Registry) *Generator {
	return &Generator{
		mgr:      mgr,
		registry: registry,
		logger:   slog.Default().With("component", "credential.generator"),
		now:      time.Now,
	}
}

// WithClock overrides the clock for tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// IssueRequest describes one issuance.
type IssueRequest struct {
	Evidence  *evidence.Normalized
	IssuerDID string
	// SubjectDID defaults to IssuerDID (self-issued proofs).
	SubjectDID string

	// ExpiryDays must be set explicitly by the caller; the generator never
	// picks a default. Negative values produce already-expired credentials
	// (useful for testing verifier behavior).
	ExpiryDays int

	// EvidenceLog, when present, is verified and bound into the credential
	// as evidenceChain.
	EvidenceLog *evidencelog.Log

	// CaptureReceipts enables the process receipt chain for this issuance.
	CaptureReceipts bool

	// RegisterCredential also registers the signed credential itself in
	// the transparency log.
	RegisterCredential bool
}

// IssueResult is the issuance outcome.
type IssueResult struct {
	JWT      string                `json:"jwt"`
	Receipts []*receipts.Statement `json:"receipts,omitempty"`
	// EntryID is the credential's own transparency-log entry, when
	// registration was requested.
	EntryID string `json:"entryId,omitempty"`
}

// Issue validates evidence, maps it into the credential subject, captures
// process receipts, sanitizes the payload, signs the JWT, and enforces the
// serialized size cap before any transparency-log registration of the
// credential itself.
func (g *Generator) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	if err := evidence.Validate(req.Evidence); err != nil {
		return nil, err
	}
	if req.IssuerDID == "" {
		return nil, poerr.New(poerr.ClassInput, "issuer DID required")
	}
	if req.ExpiryDays == 0 {
		return nil, poerr.New(poerr.ClassInput, "expiryDays must be provided explicitly")
	}

	subjectDID := req.SubjectDID
	if subjectDID == "" {
		subjectDID = req.IssuerDID
	}

	subject := g.mapEvidence(req.Evidence)

	var chain *receipts.Chain
	if req.CaptureReceipts {
		var err error
		chain, err = g.captureReceipts(ctx, req.Evidence, &subject)
		if err != nil {
			return nil, poerr.Wrap(poerr.ClassInternal, "capture receipts", err)
		}
	}

	if req.EvidenceLog != nil {
		verify, err := req.EvidenceLog.Verify()
		if err != nil {
			return nil, poerr.Wrap(poerr.ClassInternal, "verify evidence log", err)
		}
		subject.EvidenceChain = &EvidenceChain{
			HashChainRoot: req.EvidenceLog.Root(),
			RecordCount:   verify.RecordCount,
			ChainVerified: verify.Valid,
		}
	}

	if chain != nil {
		digest, err := chain.Digest()
		if err != nil {
			return nil, poerr.Wrap(poerr.ClassInternal, "chain digest", err)
		}
		result, err := receipts.VerifyChain(chain.Receipts(), g.mgr.Public())
		if err != nil {
			return nil, poerr.Wrap(poerr.ClassInternal, "verify receipt chain", err)
		}
		subject.ProcessProvenance = &ProcessProvenance{
			ReceiptCount:      chain.Len(),
			ChainVerified:     result.ChainValid,
			ChainDigest:       digest,
			ToolAttestedSteps: result.ToolAttestedSteps,
			SCITTEntryIDs:     chain.EntryIDs(),
		}
	}

	sanitized, err := sanitizeSubject(subject)
	if err != nil {
		return nil, poerr.Wrap(poerr.ClassInternal, "sanitize subject", err)
	}

	now := g.now().UTC()
	exp := now.Add(time.Duration(req.ExpiryDays) * 24 * time.Hour)

	payload := &Payload{
		Issuer:    req.IssuerDID,
		Subject:   subjectDID,
		JTI:       "urn:uuid:" + uuid.NewString(),
		IssuedAt:  now.Unix(),
		ExpiresAt: exp.Unix(),
		VC: VC{
			Context:           []string{ContextCredentialsV2},
			Type:              []string{TypeVerifiableCredential, TypeCPOE},
			Issuer:            req.IssuerDID,
			ValidFrom:         now.Format(time.RFC3339),
			ValidUntil:        exp.Format(time.RFC3339),
			CredentialSubject: sanitized,
		},
	}
	if req.ExpiryDays > 0 {
		if err := payload.Validate(); err != nil {
			return nil, poerr.Wrap(poerr.ClassInternal, "payload invariants", err)
		}
	}

	token, err := g.signJWT(ctx, payload, req.IssuerDID)
	if err != nil {
		return nil, poerr.Wrap(poerr.ClassInternal, "sign credential", err)
	}

	if len(token) > MaxSerializedSize {
		return nil, poerr.Newf(poerr.ClassInput,
			"serialized credential is %d bytes, cap is %d", len(token), MaxSerializedSize)
	}

	result := &IssueResult{JWT: token}
	if chain != nil {
		result.Receipts = chain.Receipts()
	}

	if req.RegisterCredential && g.registry != nil {
		entryID, err := g.registry.RegisterStatement(ctx, []byte(token))
		if err != nil {
			g.logger.Warn("credential registration failed", "issuer", req.IssuerDID, "error", err)
		} else {
			result.EntryID = entryID
		}
	}
	return result, nil
}

// mapEvidence maps the normalized envelope into the credential subject and
// computes the summary counts.
func (g *Generator) mapEvidence(ev *evidence.Normalized) Subject {
	summary := Summary{ControlsTested: len(ev.Controls)}
	frameworks := make(map[string]Framework)

	for _, c := range ev.Controls {
		fw := frameworks[c.Framework]
		fw.ControlsMapped++
		fw.Controls = append(fw.Controls, ControlResult{
			ID:     c.ID,
			Name:   c.Name,
			Status: string(c.Status),
			Notes:  c.Notes,
		})

		switch c.Status {
		case evidence.StatusEffective:
			summary.ControlsPassed++
			fw.Passed++
		case evidence.StatusIneffective:
			summary.ControlsFailed++
			fw.Failed++
		}
		frameworks[c.Framework] = fw
	}

	if decided := summary.ControlsPassed + summary.ControlsFailed; decided > 0 {
		summary.OverallScore = int(math.Round(100 * float64(summary.ControlsPassed) / float64(decided)))
	}

	prov := Provenance{
		Source:         ev.Document.Provenance.Source,
		SourceIdentity: ev.Document.Provenance.SourceIdentity,
		SourceDocument: ev.Document.Provenance.SourceDocument,
	}
	if ev.Document.Provenance.SourceDate != nil {
		prov.SourceDate = ev.Document.Provenance.SourceDate.UTC().Format(time.RFC3339)
	}

	return Subject{
		Scope:      ev.Scope,
		Provenance: prov,
		Assurance: Assurance{
			Declared: ev.Assurance,
			Verified: 0,
			Method:   "declared",
		},
		Summary:    summary,
		Frameworks: frameworks,
	}
}

// captureReceipts records the classify and chart pipeline steps.
func (g *Generator) captureReceipts(ctx context.Context, ev *evidence.Normalized, subject *Subject) (*receipts.Chain, error) {
	chain := receipts.NewChain(g.mgr, g.registry)

	started := g.now().UTC()
	var tool *receipts.ToolAttestation
	if ev.Document.Provenance.Source == did.SourceTool && ev.Document.Provenance.SourceIdentity != "" {
		tool = &receipts.ToolAttestation{Tool: ev.Document.Provenance.SourceIdentity}
	}

	if _, err := chain.Capture(ctx, receipts.GenerateInput{
		Step:           "classify",
		InputData:      ev,
		OutputData:     subject.Summary,
		BuilderID:      "corsair-generator",
		BuilderVersion: GeneratorVersion,
		Reproducible:   true,
		Tool:           tool,
		StartedOn:      started,
		FinishedOn:     g.now().UTC(),
	}); err != nil {
		return nil, err
	}

	chartStart := g.now().UTC()
	if _, err := chain.Capture(ctx, receipts.GenerateInput{
		Step:           "chart",
		InputData:      subject.Summary,
		OutputData:     subject.Frameworks,
		BuilderID:      "corsair-generator",
		BuilderVersion: GeneratorVersion,
		Reproducible:   true,
		StartedOn:      chartStart,
		FinishedOn:     g.now().UTC(),
	}); err != nil {
		return nil, err
	}
	return chain, nil
}

// sanitizeSubject routes the subject through the redaction pass, preserving
// structure via a JSON round-trip.
func sanitizeSubject(s Subject) (Subject, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return Subject{}, fmt.Errorf("credential: marshal subject: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Subject{}, fmt.Errorf("credential: decode subject: %w", err)
	}

	cleaned := redact.Value(generic)
	cleanedRaw, err := json.Marshal(cleaned)
	if err != nil {
		return Subject{}, fmt.Errorf("credential: marshal sanitized subject: %w", err)
	}

	var out Subject
	if err := json.Unmarshal(cleanedRaw, &out); err != nil {
		return Subject{}, fmt.Errorf("credential: decode sanitized subject: %w", err)
	}
	return out, nil
}

// ManagerSigningMethod adapts a keys.Manager to the JWT signing surface so
// both file-backed and KMS-backed managers sign tokens the same way. The
// context rides inside the method because jwt's signing hook takes none.
func ManagerSigningMethod(ctx context.Context, mgr keys.Manager) jwt.SigningMethod {
	return &managerMethod{ctx: ctx, mgr: mgr}
}

type managerMethod struct {
	ctx context.Context
	mgr keys.Manager
}

func (m *managerMethod) Alg() string { return "EdDSA" }

func (m *managerMethod) Sign(signingString string, _ any) ([]byte, error) {
	return m.mgr.Sign(m.ctx, []byte(signingString))
}

func (m *managerMethod) Verify(signingString string, sig []byte, _ any) error {
	if !keys.Verify(m.mgr.Public(), []byte(signingString), sig) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

func (g *Generator) signJWT(ctx context.Context, payload *Payload, issuerDID string) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("credential: marshal payload: %w", err)
	}
	var claims jwt.MapClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return "", fmt.Errorf("credential: claims decode: %w", err)
	}

	token := jwt.NewWithClaims(&managerMethod{ctx: ctx, mgr: g.mgr}, claims)
	token.Header["typ"] = JWTType
	token.Header["kid"] = issuerDID + "#" + g.mgr.KeyRef()

	signed, err := token.SignedString(nil)
	if err != nil {
		return "", fmt.Errorf("credential: sign jwt: %w", err)
	}
	return signed, nil
}
