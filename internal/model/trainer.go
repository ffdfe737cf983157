// Package model trains and evaluates the fraud classifier.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profile"
)

var tracer = otel.Tracer("kestrel/model")

// Params configures a training run.
type Params struct {
	TestFraction   float64
	Seed           int64
	Trees          int
	MaxDepth       int
	MinSamplesLeaf int
	SMOTENeighbors int
}

// DefaultParams mirrors the defaults in domain.DefaultConfig.
func DefaultParams() Params {
	return ParamsFrom(domain.DefaultConfig().Training)
}

// ParamsFrom extracts training parameters from config.
func ParamsFrom(cfg domain.TrainingConfig) Params {
	return Params{
		TestFraction:   cfg.TestFraction,
		Seed:           cfg.Seed,
		Trees:          cfg.Trees,
		MaxDepth:       cfg.MaxDepth,
		MinSamplesLeaf: cfg.MinSamplesLeaf,
		SMOTENeighbors: cfg.SMOTENeighbors,
	}
}

// Trainer fits models from profile feature matrices.
type Trainer struct {
	params Params
}

// NewTrainer creates a trainer.
func NewTrainer(params Params) *Trainer {
	return &Trainer{params: params}
}

// Train splits the matrix, fits a scaler on the training partition,
// rebalances it with SMOTE and grows the forest. The returned model is bound
// to the profile's schema and carries a report on the held-out partition.
func (t *Trainer) Train(ctx context.Context, m *profile.Matrix, labels []int, p *domain.Profile) (*domain.Model, error) {
	ctx, span := tracer.Start(ctx, "model.train")
	defer span.End()

	start := time.Now()

	if m == nil || p == nil {
		return nil, fmt.Errorf("%w: no feature matrix", domain.ErrInsufficientData)
	}
	if !m.Columns.Equal(p.Schema) {
		return nil, fmt.Errorf("%w: matrix columns differ from profile schema", domain.ErrSchemaMismatch)
	}
	if len(m.Rows) != len(labels) {
		return nil, fmt.Errorf("%w: %d rows but %d labels", domain.ErrMalformedHistory, len(m.Rows), len(labels))
	}

	overall := classCounts(labels)
	if overall[0] == 0 || overall[1] == 0 {
		return nil, fmt.Errorf("%w: history needs both fraud and legitimate examples (got %d/%d)",
			domain.ErrInsufficientData, overall[1], overall[0])
	}

	trainIdx, testIdx := Split(len(m.Rows), t.params.TestFraction, t.params.Seed)
	trainRows, trainLabels := take(m.Rows, labels, trainIdx)
	testRows, testLabels := take(m.Rows, labels, testIdx)

	before := classCounts(trainLabels)
	if min(before[0], before[1]) < 2 {
		return nil, fmt.Errorf("%w: training partition has %d fraud and %d legitimate rows",
			domain.ErrInsufficientData, before[1], before[0])
	}

	scaler := FitScaler(trainRows, len(m.Columns))
	scaledTrain := transformAll(scaler, trainRows)

	rng := rand.New(rand.NewSource(t.params.Seed))
	balancedRows, balancedLabels := SMOTE(scaledTrain, trainLabels, t.params.SMOTENeighbors, rng)
	after := classCounts(balancedLabels)

	trees, imp, err := FitForest(ctx, balancedRows, balancedLabels, ForestParams{
		Trees:          t.params.Trees,
		MaxDepth:       t.params.MaxDepth,
		MinSamplesLeaf: t.params.MinSamplesLeaf,
		Seed:           t.params.Seed,
	})
	if err != nil {
		return nil, err
	}

	importances := make(map[string]float64, len(m.Columns))
	for j, col := range m.Columns {
		importances[col] = imp[j]
	}

	model := &domain.Model{
		ID:          uuid.New().String(),
		ProfileID:   p.ID,
		Schema:      append(domain.Schema(nil), p.Schema...),
		Scaler:      scaler,
		Trees:       trees,
		Importances: importances,
		CreatedAt:   time.Now().UTC(),
	}

	report := &domain.TrainingReport{
		TrainRows:     len(trainRows),
		TestRows:      len(testRows),
		ClassesBefore: before,
		ClassesAfter:  after,
		TopFeatures:   TopFeatures(importances, 10),
	}
	probs := make([]float64, len(testRows))
	for i, row := range testRows {
		probs[i], _ = Predict(model, row)
	}
	Evaluate(report, probs, testLabels)
	report.TrainDurationMs = time.Since(start).Milliseconds()
	model.Report = report

	span.SetAttributes(
		attribute.Int("train_rows", report.TrainRows),
		attribute.Int("test_rows", report.TestRows),
		attribute.Float64("auc", report.AUC),
	)

	slog.Info("model trained",
		"model_id", model.ID,
		"profile_id", p.ID,
		"train_rows", report.TrainRows,
		"test_rows", report.TestRows,
		"fraud_before_smote", before[1],
		"fraud_after_smote", after[1],
		"auc", report.AUC,
		"precision", report.Precision,
		"recall", report.Recall,
		"duration_ms", report.TrainDurationMs,
	)

	return model, nil
}
