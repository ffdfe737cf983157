// Package decision turns a fraud score into a recorded evaluation.
package decision

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EngineVersion is stamped on every evaluation.
const EngineVersion = "kestrel-1.0"

// DefaultThreshold is the probability at which a transaction is flagged.
const DefaultThreshold = 0.4

// Processor applies the alert threshold.
type Processor struct {
	Threshold float64
	now       func() time.Time
}

// NewProcessor creates a processor. A threshold outside (0,1] falls back to
// DefaultThreshold.
func NewProcessor(threshold float64) *Processor {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Processor{
		Threshold: threshold,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Input contains everything needed for a decision.
type Input struct {
	TxID      string
	TraceID   string
	Score     *domain.FraudScore
	Reasons   []string
	ProfileID string
	ModelID   string
	ScoreMs   int64
	StartTime time.Time
}

// Process decides the score and builds the evaluation record.
func (p *Processor) Process(ctx context.Context, in *Input) *domain.Evaluation {
	start := p.now()

	status := domain.StatusNoAlert
	if in.Score.Decide(p.Threshold) {
		status = domain.StatusAlert
	}

	eval := &domain.Evaluation{
		ID:        uuid.New().String(),
		TxID:      in.TxID,
		Status:    status,
		Score:     in.Score.Probability,
		Threshold: p.Threshold,
		Timestamp: start,
		ProfileID: in.ProfileID,
		ModelID:   in.ModelID,
		Result:    in.Score,
		Reasons:   in.Reasons,
	}

	end := p.now()
	eval.Metadata = domain.EvaluationMetadata{
		TraceID:       in.TraceID,
		ScoreMs:       in.ScoreMs,
		DecisionMs:    end.Sub(start).Milliseconds(),
		EngineVersion: EngineVersion,
	}
	if !in.StartTime.IsZero() {
		eval.Metadata.TotalMs = end.Sub(in.StartTime).Milliseconds()
	}
	return eval
}

// ShouldAlert returns true if the evaluation should trigger an alert.
func ShouldAlert(eval *domain.Evaluation) bool {
	return eval.Status == domain.StatusAlert
}
