package credential

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/grcorsair/corsair/pkg/canonical"
	"github.com/grcorsair/corsair/pkg/poerr"
)

const (
	// StatusInFlight marks a request being processed.
	StatusInFlight = "in-flight"
	// StatusComplete marks a stored terminal response.
	StatusComplete = "complete"

	memoryTTL   = time.Hour
	sweepPeriod = 5 * time.Minute
)

// StoredResponse is one idempotency record.
type StoredResponse struct {
	Key         string    `json:"key"`
	Route       string    `json:"route,omitempty"`
	RequestHash string    `json:"requestHash"`
	Status      string    `json:"status"`
	Response    []byte    `json:"response,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ResponseStore persists idempotency records. Implementations must be safe
// for concurrent use; Put with an existing key overwrites.
type ResponseStore interface {
	Get(ctx context.Context, key string) (*StoredResponse, error)
	Put(ctx context.Context, key string, r *StoredResponse) error
}

// memoryStore is the bounded in-memory fallback: entries expire after an
// hour, a periodic sweep evicts them so long-running processes stay flat.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]*StoredResponse
	stop    chan struct{}
}

func newMemoryStore() *memoryStore {
	s := &memoryStore{
		entries: make(map[string]*StoredResponse),
		stop:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *memoryStore) Get(_ context.Context, key string) (*StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[key]
	if !ok || time.Now().After(r.ExpiresAt) {
		return nil, nil
	}
	return r, nil
}

func (s *memoryStore) Put(_ context.Context, key string, r *StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = r
	return nil
}

func (s *memoryStore) sweep() {
	ticker := time.NewTicker(sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, r := range s.entries {
				if now.After(r.ExpiresAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// IdempotentIssuer wraps a Generator with idempotency-key semantics:
// identical {key, request} replays the stored response, same key with a
// different request conflicts, and a key still being processed asks the
// caller to retry shortly.
type IdempotentIssuer struct {
	gen    *Generator
	store  ResponseStore
	mem    *memoryStore
	logger *slog.Logger
}

// ErrRetryShortly signals an in-flight duplicate.
var ErrRetryShortly = poerr.New(poerr.ClassConflict, "request with this idempotency key is in flight; retry shortly")

// NewIdempotentIssuer wraps gen. store may be nil; the bounded in-memory
// cache then carries all records. When store fails at runtime the issuer
// also falls back to memory.
func NewIdempotentIssuer(gen *Generator, store ResponseStore) *IdempotentIssuer {
	return &IdempotentIssuer{
		gen:    gen,
		store:  store,
		mem:    newMemoryStore(),
		logger: slog.Default().With("component", "credential.idempotency"),
	}
}

// Issue performs an idempotent issuance under key. An empty key bypasses
// idempotency entirely.
func (i *IdempotentIssuer) Issue(ctx context.Context, key string, req IssueRequest) (*IssueResult, error) {
	if key == "" {
		return i.gen.Issue(ctx, req)
	}

	reqHash, err := canonical.Hash(req)
	if err != nil {
		return nil, poerr.Wrap(poerr.ClassInternal, "hash request", err)
	}

	if existing := i.get(ctx, key); existing != nil {
		if existing.RequestHash != reqHash {
			return nil, poerr.Newf(poerr.ClassConflict,
				"idempotency key %q reused with a different request body", key)
		}
		if existing.Status == StatusInFlight {
			return nil, ErrRetryShortly
		}
		var cached IssueResult
		if err := json.Unmarshal(existing.Response, &cached); err != nil {
			return nil, poerr.Wrap(poerr.ClassInternal, "decode cached response", err)
		}
		return &cached, nil
	}

	i.put(ctx, key, &StoredResponse{
		Key:         key,
		RequestHash: reqHash,
		Status:      StatusInFlight,
		ExpiresAt:   time.Now().Add(memoryTTL),
	})

	result, err := i.gen.Issue(ctx, req)
	if err != nil {
		// Failed issuances are not cached; the caller may retry with the
		// same key.
		i.put(ctx, key, nil)
		return nil, err
	}

	raw, merr := json.Marshal(result)
	if merr != nil {
		return nil, poerr.Wrap(poerr.ClassInternal, "encode response", merr)
	}
	i.put(ctx, key, &StoredResponse{
		Key:         key,
		RequestHash: reqHash,
		Status:      StatusComplete,
		Response:    raw,
		ExpiresAt:   time.Now().Add(memoryTTL),
	})
	return result, nil
}

func (i *IdempotentIssuer) get(ctx context.Context, key string) *StoredResponse {
	if i.store != nil {
		r, err := i.store.Get(ctx, key)
		if err == nil {
			if r != nil && time.Now().Before(r.ExpiresAt) {
				return r
			}
		} else {
			i.logger.Warn("idempotency store read failed; falling back to memory", "error", err)
		}
	}
	r, _ := i.mem.Get(ctx, key)
	return r
}

func (i *IdempotentIssuer) put(ctx context.Context, key string, r *StoredResponse) {
	if r == nil {
		// Clear the in-flight marker so the caller may retry immediately.
		if i.store != nil {
			expired := &StoredResponse{Key: key, Status: StatusComplete, ExpiresAt: time.Now().Add(-time.Second)}
			if err := i.store.Put(ctx, key, expired); err != nil {
				i.logger.Warn("idempotency store clear failed", "error", err)
			}
		}
		i.mem.mu.Lock()
		delete(i.mem.entries, key)
		i.mem.mu.Unlock()
		return
	}
	if i.store != nil {
		if err := i.store.Put(ctx, key, r); err != nil {
			i.logger.Warn("idempotency store write failed; falling back to memory", "error", err)
		}
	}
	_ = i.mem.Put(ctx, key, r)
}
