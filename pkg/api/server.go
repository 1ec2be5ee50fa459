package api

import (
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/grcorsair/corsair/pkg/credential"
	"github.com/grcorsair/corsair/pkg/did"
	"github.com/grcorsair/corsair/pkg/discovery"
	"github.com/grcorsair/corsair/pkg/evidence"
	"github.com/grcorsair/corsair/pkg/keys"
	"github.com/grcorsair/corsair/pkg/poerr"
	"github.com/grcorsair/corsair/pkg/verify"
)

// maxBodyBytes caps request bodies well above the credential size cap.
const maxBodyBytes = 4 << 20

// FormatDetector normalizes raw scanner output into the evidence envelope.
// Scanner-specific detectors are external adapters; the default accepts
// already-normalized JSON only.
type FormatDetector interface {
	Normalize(raw []byte) (*evidence.Normalized, error)
}

type jsonDetector struct{}

func (jsonDetector) Normalize(raw []byte) (*evidence.Normalized, error) {
	var n evidence.Normalized
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, poerr.Wrap(poerr.ClassInput, "evidence is not normalized JSON", err)
	}
	return &n, nil
}

// Server is the HTTP surface.
type Server struct {
	issuer   *credential.IdempotentIssuer
	mgr      *keys.FileManager
	resolver verify.Resolver
	detector FormatDetector
	domain   string
	logger   *slog.Logger

	mu      sync.RWMutex
	onboard *discovery.OnboardResult
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithFormatDetector installs a scanner-format detector for /sign.
func WithFormatDetector(d FormatDetector) ServerOption {
	return func(s *Server) { s.detector = d }
}

// WithResolver installs the DID resolver used by /verify.
func WithResolver(r verify.Resolver) ServerOption {
	return func(s *Server) { s.resolver = r }
}

// NewServer builds the server for a domain.
func NewServer(issuer *credential.IdempotentIssuer, mgr *keys.FileManager, domain string, opts ...ServerOption) *Server {
	s := &Server{
		issuer:   issuer,
		mgr:      mgr,
		detector: jsonDetector{},
		resolver: did.NewResolver(),
		domain:   domain,
		logger:   slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler assembles the route table with CORS and instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/issue", s.requirePost(s.handleIssue))
	mux.HandleFunc("/sign", s.requirePost(s.handleSign))
	mux.HandleFunc("/verify", s.requirePost(s.handleVerify))
	mux.HandleFunc("/onboard", s.requirePost(s.handleOnboard))
	mux.HandleFunc("/.well-known/did.json", s.handleDIDDocument)
	mux.HandleFunc("/.well-known/jwks.json", s.handleJWKS)
	mux.HandleFunc("/.well-known/trust.txt", s.handleTrustTXT)
	return CORS(Instrument(mux, s.logger))
}

func (s *Server) requirePost(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
			return
		}
		h(w, r)
	}
}

// issueBody is the /issue request shape.
type issueBody struct {
	Evidence        *evidence.Normalized `json:"evidence"`
	ExpiryDays      int                  `json:"expiryDays"`
	CaptureReceipts bool                 `json:"captureReceipts"`
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var body issueBody
	if err := readJSON(r, &body); err != nil {
		WriteClassified(w, r, err)
		return
	}
	s.issue(w, r, body)
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "input", "unreadable body")
		return
	}
	normalized, err := s.detector.Normalize(raw)
	if err != nil {
		WriteClassified(w, r, err)
		return
	}
	// The raw-evidence surface defaults to the short-lived internal expiry;
	// callers override it via the normalized /issue route.
	s.issue(w, r, issueBody{Evidence: normalized, ExpiryDays: 7, CaptureReceipts: true})
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, body issueBody) {
	req := credential.IssueRequest{
		Evidence:           body.Evidence,
		IssuerDID:          did.EncodeWebDID(s.domain),
		ExpiryDays:         body.ExpiryDays,
		CaptureReceipts:    body.CaptureReceipts,
		RegisterCredential: strings.EqualFold(r.Header.Get(HeaderRegisterSCITT), "true"),
	}

	result, err := s.issuer.Issue(r.Context(), r.Header.Get(HeaderIdempotencyKey), req)
	if err != nil {
		WriteClassified(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// verifyBody is the /verify request shape.
type verifyBody struct {
	JWT    string `json:"jwt"`
	ViaDID bool   `json:"viaDid"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if err := readJSON(r, &body); err != nil {
		WriteClassified(w, r, err)
		return
	}
	if body.JWT == "" {
		WriteError(w, r, http.StatusBadRequest, "input", "jwt required")
		return
	}

	if body.ViaDID {
		result, err := verify.VerifyViaDID(r.Context(), body.JWT, s.resolver)
		if err != nil {
			WriteError(w, r, http.StatusBadGateway, "resolution_error", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, result)
		return
	}

	trusted := []ed25519.PublicKey{s.mgr.Public()}
	for _, retired := range s.mgr.Retired() {
		trusted = append(trusted, retired.PublicKey)
	}
	WriteJSON(w, http.StatusOK, verify.Verify(body.JWT, trusted))
}

// onboardBody is the /onboard request shape.
type onboardBody struct {
	Frameworks []string      `json:"frameworks,omitempty"`
	KeyScope   *did.KeyScope `json:"keyScope,omitempty"`
}

func (s *Server) handleOnboard(w http.ResponseWriter, r *http.Request) {
	var body onboardBody
	if err := readJSON(r, &body); err != nil {
		WriteClassified(w, r, err)
		return
	}

	result := discovery.Onboard(s.mgr, s.domain, body.KeyScope, body.Frameworks)
	s.mu.Lock()
	s.onboard = result
	s.mu.Unlock()

	WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleDIDDocument(w http.ResponseWriter, _ *http.Request) {
	doc := s.artifacts().DIDDocument
	w.Header().Set("Content-Type", discovery.ContentTypeDID)
	_ = json.NewEncoder(w).Encode(doc)
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	set := s.artifacts().JWKS
	w.Header().Set("Content-Type", discovery.ContentTypeJWKS)
	_ = json.NewEncoder(w).Encode(set)
}

func (s *Server) handleTrustTXT(w http.ResponseWriter, _ *http.Request) {
	txt := s.artifacts().TrustTXT
	w.Header().Set("Content-Type", discovery.ContentTypeTrustTXT)
	_, _ = w.Write([]byte(txt))
}

// artifacts returns the onboarded artefacts, minting defaults on first use.
func (s *Server) artifacts() *discovery.OnboardResult {
	s.mu.RLock()
	cached := s.onboard
	s.mu.RUnlock()
	if cached != nil {
		return cached
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onboard == nil {
		s.onboard = discovery.Onboard(s.mgr, s.domain, nil, nil)
	}
	return s.onboard
}

func readJSON(r *http.Request, v any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return poerr.Wrap(poerr.ClassInput, "unreadable body", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return poerr.Wrap(poerr.ClassInput, "malformed JSON body", err)
	}
	return nil
}
