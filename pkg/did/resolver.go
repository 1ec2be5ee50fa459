package did

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// DefaultFetchTimeout bounds every outbound document fetch.
const DefaultFetchTimeout = 5 * time.Second

// maxDocumentBytes caps the size of a fetched DID document.
const maxDocumentBytes = 1 << 20

// ErrRedirect is returned when the target attempts to redirect the fetch.
var ErrRedirect = errors.New("did: redirects are not followed")

// ResolutionResult mirrors the DID resolution contract: a document or an
// error, never both.
type ResolutionResult struct {
	DIDDocument        *Document          `json:"didDocument"`
	ResolutionMetadata ResolutionMetadata `json:"didResolutionMetadata"`
}

// ResolutionMetadata carries the failure cause when resolution fails.
type ResolutionMetadata struct {
	Error string `json:"error,omitempty"`
}

// Resolver fetches did:web documents over HTTPS with SSRF safeguards, no
// redirect following, and a shared outbound rate limit.
type Resolver struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewResolver creates a resolver with the default timeout and a 10 req/s
// outbound budget.
func NewResolver() *Resolver {
	return &Resolver{
		client: &http.Client{
			Timeout: DefaultFetchTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return ErrRedirect
			},
		},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		logger:  slog.Default().With("component", "did.resolver"),
	}
}

// WithHTTPClient overrides the HTTP client (tests, custom transports). The
// redirect refusal is re-applied to the provided client.
func (r *Resolver) WithHTTPClient(c *http.Client) *Resolver {
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return ErrRedirect
	}
	r.client = c
	return r
}

// Resolve parses a did:web identifier and fetches its document. All failure
// paths leave DIDDocument nil and set ResolutionMetadata.Error.
func (r *Resolver) Resolve(ctx context.Context, didID string) *ResolutionResult {
	w, err := ParseWebDID(didID)
	if err != nil {
		return resolutionError("invalidDid", err)
	}
	return r.fetch(ctx, w.ResolutionURL())
}

// FetchWellKnown fetches an arbitrary well-known artefact (e.g. trust.txt)
// with the same safeguards as DID resolution, returning the raw body.
func (r *Resolver) FetchWellKnown(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("did: parse url: %w", err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("did: refusing non-HTTPS url %q", rawURL)
	}
	if err := CheckHostAllowed(u.Host); err != nil {
		return nil, err
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("did: rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("did: build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("did: fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("did: fetch %s: status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("did: read body: %w", err)
	}
	return body, nil
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) *ResolutionResult {
	body, err := r.FetchWellKnown(ctx, rawURL)
	if err != nil {
		r.logger.Debug("resolution failed", "url", rawURL, "error", err)
		return resolutionError("notFound", err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return resolutionError("invalidDidDocument", err)
	}
	if doc.ID == "" {
		return resolutionError("invalidDidDocument", errors.New("did: document missing id"))
	}
	return &ResolutionResult{DIDDocument: &doc}
}

func resolutionError(code string, err error) *ResolutionResult {
	return &ResolutionResult{
		ResolutionMetadata: ResolutionMetadata{Error: fmt.Sprintf("%s: %v", code, err)},
	}
}
