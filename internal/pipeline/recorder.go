package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// BusRecorder publishes decisions to the event bus without blocking the
// scoring path. Every decision goes to TopicDecision; alerts are also sent
// to TopicAlert.
type BusRecorder struct {
	bus     domain.EventBus
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewBusRecorder creates a recorder on bus.
func NewBusRecorder(bus domain.EventBus) *BusRecorder {
	return &BusRecorder{bus: bus, timeout: 5 * time.Second}
}

// DataHash is the hex SHA-256 of the transaction's JSON encoding.
func DataHash(tx *domain.Transaction) (string, error) {
	data, err := json.Marshal(tx)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Record implements domain.Recorder.
func (r *BusRecorder) Record(ctx context.Context, eval *domain.Evaluation, tx *domain.Transaction) {
	hash, err := DataHash(tx)
	if err != nil {
		slog.Error("failed to hash transaction", "tx_id", tx.ID, "error", err)
		return
	}

	event := domain.DecisionEvent{
		EvaluationID: eval.ID,
		Transaction:  tx,
		Status:       eval.Status,
		Score:        eval.Score,
		Fraud:        eval.Flagged(),
		DataHash:     hash,
		Timestamp:    eval.Timestamp,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode decision", "tx_id", tx.ID, "error", err)
		return
	}

	alert := decision.ShouldAlert(eval)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		r.publish(pubCtx, domain.TopicDecision, payload, tx.ID)
		if alert {
			r.publish(pubCtx, domain.TopicAlert, payload, tx.ID)
		}
	}()
}

// Trained implements TrainingObserver.
func (r *BusRecorder) Trained(ctx context.Context, a *domain.Artifacts) {
	payload, err := json.Marshal(struct {
		ModelID   string                 `json:"modelId"`
		ProfileID string                 `json:"profileId"`
		Schema    domain.Schema          `json:"schema"`
		Report    *domain.TrainingReport `json:"report,omitempty"`
		CreatedAt time.Time              `json:"createdAt"`
	}{a.Model.ID, a.Profile.ID, a.Model.Schema, a.Model.Report, a.Model.CreatedAt})
	if err != nil {
		slog.Error("failed to encode training event", "model_id", a.Model.ID, "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	r.publish(pubCtx, domain.TopicModelTrained, payload, a.Model.ID)
}

func (r *BusRecorder) publish(ctx context.Context, topic string, payload []byte, id string) {
	if err := r.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish",
			"topic", topic,
			"id", id,
			"error", err,
		)
	}
}

// Wait blocks until in-flight publishes finish.
func (r *BusRecorder) Wait() {
	r.wg.Wait()
}
