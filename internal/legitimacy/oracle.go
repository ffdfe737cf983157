package legitimacy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Oracle is an external judgment call on a single company name.
type Oracle interface {
	Ask(ctx context.Context, name string) (bool, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, name string) (bool, error)

// Ask implements Oracle.
func (f OracleFunc) Ask(ctx context.Context, name string) (bool, error) {
	return f(ctx, name)
}

// OracleVerifier asks the oracle about names the registry does not know.
// Positive answers are added to the registry; negative answers are only
// memoized in the cache for a short time. Failures resolve to not
// legitimate and are never returned.
type OracleVerifier struct {
	registry    *Registry
	oracle      Oracle
	cache       domain.Cache
	timeout     time.Duration
	negativeTTL time.Duration
	group       singleflight.Group
}

// NewOracleVerifier creates an oracle-backed verifier. cache may be nil.
func NewOracleVerifier(registry *Registry, oracle Oracle, cache domain.Cache, cfg domain.LegitimacyConfig) *OracleVerifier {
	timeout := cfg.OracleTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OracleVerifier{
		registry:    registry,
		oracle:      oracle,
		cache:       cache,
		timeout:     timeout,
		negativeTTL: cfg.NegativeTTL,
	}
}

// IsLegitimate implements Verifier.
func (v *OracleVerifier) IsLegitimate(ctx context.Context, name string) bool {
	norm := Normalize(name)
	if norm == "" {
		return false
	}
	if v.registry.Contains(norm) {
		return true
	}
	if v.cachedNegative(ctx, norm) {
		metrics.LegitimacyChecks.WithLabelValues("cache", "illegitimate").Inc()
		return false
	}

	res, _, _ := v.group.Do(norm, func() (any, error) {
		// another flight may have registered it
		if v.registry.Contains(norm) {
			return true, nil
		}
		return v.ask(ctx, name, norm), nil
	})
	return res.(bool)
}

func (v *OracleVerifier) ask(ctx context.Context, name, norm string) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
	defer cancel()

	start := time.Now()
	ok, err := v.oracle.Ask(ctx, name)
	metrics.OracleLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, domain.ErrOracleUnavailable) {
			err = errors.Join(domain.ErrOracleUnavailable, err)
		}
		metrics.LegitimacyChecks.WithLabelValues("oracle", "error").Inc()
		slog.Warn("legitimacy oracle failed", "name", norm, "error", err)
		return false
	}

	if !ok {
		metrics.LegitimacyChecks.WithLabelValues("oracle", "illegitimate").Inc()
		v.rememberNegative(ctx, norm)
		return false
	}

	metrics.LegitimacyChecks.WithLabelValues("oracle", "legitimate").Inc()
	if err := v.registry.Add(ctx, norm, "oracle"); err != nil {
		slog.Error("failed to record legitimate company", "name", norm, "error", err)
	} else {
		slog.Info("company added to registry", "name", norm, "source", "oracle")
	}
	return true
}

func (v *OracleVerifier) cachedNegative(ctx context.Context, norm string) bool {
	if v.cache == nil || v.negativeTTL <= 0 {
		return false
	}
	verdict, err := v.cache.GetVerdict(ctx, norm)
	if err != nil {
		slog.Debug("verdict cache read failed", "name", norm, "error", err)
		return false
	}
	return verdict != nil && !verdict.Legitimate
}

func (v *OracleVerifier) rememberNegative(ctx context.Context, norm string) {
	if v.cache == nil || v.negativeTTL <= 0 {
		return
	}
	verdict := &domain.Verdict{
		Name:       norm,
		Legitimate: false,
		Source:     "oracle",
		CheckedAt:  time.Now().UTC(),
	}
	if err := v.cache.SetVerdict(ctx, verdict, v.negativeTTL); err != nil {
		slog.Debug("verdict cache write failed", "name", norm, "error", err)
	}
}
