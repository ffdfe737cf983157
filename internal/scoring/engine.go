// Package scoring converts one transaction into a fraud probability using a
// frozen profile and model.
package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/legitimacy"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/risk"
)

var tracer = otel.Tracer("kestrel/scoring")

// DefaultIllegitimateFloor is the minimum probability for a payee that is not
// a known legitimate business.
const DefaultIllegitimateFloor = 0.9

// Engine scores transactions. It holds no artifact state; callers pass the
// profile and model of one training run.
type Engine struct {
	verifier legitimacy.Verifier
	floor    float64
}

// NewEngine creates a scoring engine.
func NewEngine(verifier legitimacy.Verifier, cfg domain.ScoringConfig) *Engine {
	floor := cfg.IllegitimateFloor
	if floor <= 0 || floor > 1 {
		floor = DefaultIllegitimateFloor
	}
	return &Engine{verifier: verifier, floor: floor}
}

// Score derives, aligns, scales and predicts, then applies the legitimacy
// floor and the user risk blend. The result is always in [0,1].
func (e *Engine) Score(ctx context.Context, tx *domain.Transaction, user domain.UserContext, p *domain.Profile, m *domain.Model) (*domain.FraudScore, error) {
	start := time.Now()
	defer metrics.ObserveSince(metrics.ScoreDuration, start)

	ctx, span := tracer.Start(ctx, "scoring.score")
	defer span.End()

	if p == nil || m == nil {
		return nil, domain.ErrModelNotTrained
	}
	if m.ProfileID != p.ID || !m.Schema.Equal(p.Schema) {
		return nil, fmt.Errorf("%w: model %s, profile %s", domain.ErrSchemaMismatch, m.ID, p.ID)
	}
	if tx == nil || tx.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: transaction timestamp is required", domain.ErrMalformedInput)
	}
	if math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
		return nil, fmt.Errorf("%w: amount must be finite", domain.ErrMalformedInput)
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}

	row := profile.Align(profile.Derive(tx, user, p), p.Schema)
	raw, err := model.Predict(m, row)
	if err != nil {
		return nil, err
	}

	legit := e.verifier.IsLegitimate(ctx, tx.Name)
	prob := raw
	if !legit {
		prob = math.Max(prob, e.floor)
	}
	prob, delta := risk.Adjust(prob, user)

	features := make(map[string]float64, len(row))
	for i, col := range p.Schema {
		features[col] = row[i]
	}

	span.SetAttributes(
		attribute.String("tx.id", tx.ID),
		attribute.String("model.id", m.ID),
		attribute.Float64("score.raw", raw),
		attribute.Float64("score.final", prob),
		attribute.Bool("payee.legitimate", legit),
	)

	return &domain.FraudScore{
		Probability:    prob,
		RawProbability: raw,
		Legitimate:     legit,
		RiskAdjustment: delta,
		Features:       features,
	}, nil
}
