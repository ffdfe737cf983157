// Package legitimacy decides whether a payee name belongs to a known
// legitimate business.
package legitimacy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Verifier classifies payee names. Implementations are idempotent and only
// have side effects the first time a name is seen.
type Verifier interface {
	IsLegitimate(ctx context.Context, name string) bool
}

// Registry is the set of known legitimate company names, backed by a
// durable append-only store. It is loaded on first use; when the store is
// empty it is seeded from the configured company lists.
type Registry struct {
	store   domain.CompanyStore
	sources []domain.CompanySource
	cutoff  int

	loadMu sync.Mutex
	loaded bool

	// addMu serializes writers so the store round trip runs outside mu.
	addMu sync.Mutex

	mu    sync.RWMutex
	names map[string]struct{}
	list  []string
}

// NewRegistry creates a registry over store.
func NewRegistry(store domain.CompanyStore, cfg domain.LegitimacyConfig) *Registry {
	cutoff := cfg.FuzzyCutoff
	if cutoff <= 0 {
		cutoff = 80
	}
	return &Registry{
		store:   store,
		sources: cfg.SeedFiles,
		cutoff:  cutoff,
		names:   make(map[string]struct{}),
	}
}

// Load reads the store, seeding it first if it is empty. It is safe to call
// repeatedly; a failed load is retried on the next call.
func (r *Registry) Load(ctx context.Context) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if r.loaded {
		return nil
	}

	stored, err := r.store.ListCompanies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list companies: %w", err)
	}

	if len(stored) == 0 && len(r.sources) > 0 {
		seed, missing, err := LoadSources(r.sources)
		if err != nil {
			return fmt.Errorf("failed to read company lists: %w", err)
		}
		for _, path := range missing {
			slog.Warn("company list not found", "path", path)
		}
		if len(seed) > 0 {
			if err := r.store.AddCompanies(ctx, "seed", seed); err != nil {
				return fmt.Errorf("failed to seed companies: %w", err)
			}
			slog.Info("company registry seeded", "count", len(seed))
		}
		stored = seed
	}

	r.mu.Lock()
	for _, n := range stored {
		r.insertLocked(Normalize(n))
	}
	size := len(r.list)
	r.mu.Unlock()

	r.loaded = true
	metrics.RegistrySize.Set(float64(size))
	slog.Info("company registry loaded", "count", size)
	return nil
}

func (r *Registry) insertLocked(name string) bool {
	if name == "" {
		return false
	}
	if _, ok := r.names[name]; ok {
		return false
	}
	r.names[name] = struct{}{}
	r.list = append(r.list, name)
	return true
}

// Contains reports an exact match on the normalized name.
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[Normalize(name)]
	return ok
}

// Match returns the best registry entry for name and its token-set score.
// ok is true when the score reaches the cutoff.
func (r *Registry) Match(name string) (match string, score int, ok bool) {
	norm := Normalize(name)
	if norm == "" {
		return "", 0, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, hit := r.names[norm]; hit {
		return norm, 100, true
	}
	for _, candidate := range r.list {
		s := TokenSetRatio(norm, candidate)
		if s > score {
			match, score = candidate, s
			if s == 100 {
				break
			}
		}
	}
	return match, score, score >= r.cutoff
}

// IsLegitimate reports whether name matches a registered company.
func (r *Registry) IsLegitimate(ctx context.Context, name string) bool {
	if err := r.Load(ctx); err != nil {
		slog.Error("company registry unavailable", "error", err)
		return false
	}
	match, score, ok := r.Match(name)
	if ok {
		metrics.LegitimacyChecks.WithLabelValues("registry", "legitimate").Inc()
		slog.Debug("registry match", "name", name, "match", match, "score", score)
		return true
	}
	return false
}

// Add persists name and then makes it visible in memory. Names already
// present are ignored.
func (r *Registry) Add(ctx context.Context, name, source string) error {
	if err := r.Load(ctx); err != nil {
		return err
	}

	norm := Normalize(name)
	if norm == "" {
		return fmt.Errorf("%w: empty company name", domain.ErrMalformedInput)
	}

	r.addMu.Lock()
	defer r.addMu.Unlock()

	if r.Contains(norm) {
		return nil
	}
	if err := r.store.AddCompanies(ctx, source, []string{norm}); err != nil {
		return fmt.Errorf("failed to persist company: %w", err)
	}

	r.mu.Lock()
	r.insertLocked(norm)
	size := len(r.list)
	r.mu.Unlock()

	metrics.RegistrySize.Set(float64(size))
	return nil
}

// Size returns the number of registered names.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.list)
}

// Chain tries each verifier in order; the first positive verdict wins.
type Chain []Verifier

// IsLegitimate implements Verifier.
func (c Chain) IsLegitimate(ctx context.Context, name string) bool {
	for _, v := range c {
		if v.IsLegitimate(ctx, name) {
			return true
		}
	}
	return false
}
