// Package pipeline owns the active artifact pair and runs training and
// scoring against it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

var tracer = otel.Tracer("kestrel/pipeline")

// TrainingObserver is notified after a new artifact pair becomes active.
type TrainingObserver interface {
	Trained(ctx context.Context, a *domain.Artifacts)
}

// Service holds one artifact pair behind an atomic pointer. Scorers load a
// snapshot once per call; training builds a new pair, persists it and then
// swaps it in.
type Service struct {
	repo      domain.Repository
	trainer   *model.Trainer
	engine    *scoring.Engine
	rules     *rules.Engine
	processor *decision.Processor
	recorder  domain.Recorder
	observer  TrainingObserver
	cfg       domain.TrainingConfig

	current atomic.Pointer[domain.Artifacts]
	trainMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder sends every decision to r. When r also implements
// TrainingObserver it is told about new models.
func WithRecorder(r domain.Recorder) Option {
	return func(s *Service) {
		s.recorder = r
		if o, ok := r.(TrainingObserver); ok {
			s.observer = o
		}
	}
}

// WithRules attaches reason rules to every evaluation.
func WithRules(e *rules.Engine) Option {
	return func(s *Service) { s.rules = e }
}

// NewService creates a pipeline service with no active artifacts.
func NewService(repo domain.Repository, engine *scoring.Engine, processor *decision.Processor, cfg domain.TrainingConfig, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		trainer:   model.NewTrainer(model.ParamsFrom(cfg)),
		engine:    engine,
		processor: processor,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Artifacts returns the active pair, or nil before the first training run.
func (s *Service) Artifacts() *domain.Artifacts {
	return s.current.Load()
}

// Restore activates the most recently stored pair. A missing pair is not an
// error.
func (s *Service) Restore(ctx context.Context) error {
	a, err := s.repo.LatestArtifacts(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		slog.Info("no stored model, training required")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to restore artifacts: %w", err)
	}

	s.current.Store(a)
	if a.Model.Report != nil {
		metrics.ModelAUC.Set(a.Model.Report.AUC)
	}
	slog.Info("model restored",
		"model_id", a.Model.ID,
		"profile_id", a.Profile.ID,
		"columns", len(a.Model.Schema),
	)
	return nil
}

// Train builds a profile and model from history and makes them active. Only
// one run may be in flight; a concurrent call fails with
// ErrTrainingInProgress. On any failure the previous pair stays active.
func (s *Service) Train(ctx context.Context, history []domain.Transaction, user domain.UserContext) (*domain.Artifacts, error) {
	if !s.trainMu.TryLock() {
		return nil, domain.ErrTrainingInProgress
	}
	defer s.trainMu.Unlock()

	ctx, span := tracer.Start(ctx, "pipeline.train")
	defer span.End()

	a, err := s.train(ctx, history, s.userOrDefault(user))
	if err != nil {
		metrics.TrainingRunsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		slog.Warn("training failed", "rows", len(history), "error", err)
		return nil, err
	}

	s.current.Store(a)
	metrics.TrainingRunsTotal.WithLabelValues("ok").Inc()
	metrics.ModelAUC.Set(a.Model.Report.AUC)
	span.SetAttributes(attribute.String("model.id", a.Model.ID))

	if s.observer != nil {
		s.observer.Trained(ctx, a)
	}
	return a, nil
}

func (s *Service) train(ctx context.Context, history []domain.Transaction, user domain.UserContext) (*domain.Artifacts, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}

	m, labels, p, err := profile.Build(history, user)
	if err != nil {
		return nil, err
	}

	mdl, err := s.trainer.Train(ctx, m, labels, p)
	if err != nil {
		return nil, err
	}
	a := &domain.Artifacts{Profile: p, Model: mdl}

	if err := s.repo.SaveArtifacts(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to persist artifacts: %w", err)
	}

	// history is kept for audit; the active pair does not depend on it
	txs := make([]*domain.Transaction, len(history))
	for i := range history {
		txs[i] = &history[i]
	}
	if err := s.repo.SaveTransactions(ctx, txs); err != nil {
		slog.Error("failed to store training history", "rows", len(txs), "error", err)
	}

	return a, nil
}

// TrainFromReader parses a history CSV and trains on it.
func (s *Service) TrainFromReader(ctx context.Context, r io.Reader, user domain.UserContext) (*domain.Artifacts, error) {
	history, err := profile.ReadCSV(r)
	if err != nil {
		return nil, err
	}
	return s.Train(ctx, history, user)
}

// TrainFromPath trains on the CSV at path, or on the configured default
// dataset when path is empty.
func (s *Service) TrainFromPath(ctx context.Context, path string, user domain.UserContext) (*domain.Artifacts, error) {
	if path == "" {
		path = s.cfg.DefaultDataPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open training data: %w", err)
	}
	defer f.Close()

	slog.Info("training from file", "path", path)
	return s.TrainFromReader(ctx, f, user)
}

// Score evaluates one transaction against the active pair. The evaluation is
// stored and handed to the recorder; neither failure affects the result.
func (s *Service) Score(ctx context.Context, tx *domain.Transaction, user domain.UserContext, traceID string) (*domain.Evaluation, error) {
	start := time.Now()

	a := s.current.Load()
	if a == nil {
		return nil, domain.ErrModelNotTrained
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction is required", domain.ErrMalformedInput)
	}
	observed := *tx
	tx = &observed
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if traceID == "" {
		traceID = uuid.New().String()
	}

	score, err := s.engine.Score(ctx, tx, user, a.Profile, a.Model)
	if err != nil {
		return nil, err
	}
	scoreMs := time.Since(start).Milliseconds()

	var reasons []string
	if s.rules != nil {
		reasons = s.rules.Evaluate(ctx, &rules.Input{
			Features:       score.Features,
			Legitimate:     score.Legitimate,
			Probability:    score.Probability,
			RawProbability: score.RawProbability,
			RiskAdjustment: score.RiskAdjustment,
			Name:           tx.Name,
			Location:       tx.Location,
			Amount:         tx.Amount,
		})
	}

	eval := s.processor.Process(ctx, &decision.Input{
		TxID:      tx.ID,
		TraceID:   traceID,
		Score:     score,
		Reasons:   reasons,
		ProfileID: a.Profile.ID,
		ModelID:   a.Model.ID,
		ScoreMs:   scoreMs,
		StartTime: start,
	})

	if err := s.repo.SaveEvaluation(ctx, eval); err != nil {
		slog.Error("failed to save evaluation", "tx_id", tx.ID, "error", err)
	}
	metrics.ScoresTotal.WithLabelValues(eval.Status).Inc()

	if s.recorder != nil {
		s.recorder.Record(ctx, eval, tx)
	}

	slog.Debug("transaction scored",
		"tx_id", tx.ID,
		"trace_id", traceID,
		"status", eval.Status,
		"score", eval.Score,
		"raw", score.RawProbability,
		"legitimate", score.Legitimate,
	)
	return eval, nil
}

func (s *Service) userOrDefault(u domain.UserContext) domain.UserContext {
	if u.CreditScore == 0 && u.Age == 0 {
		return s.cfg.DefaultUser
	}
	return u
}
