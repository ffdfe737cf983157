// Package worker scores transactions that arrive on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scorer evaluates one transaction against the active model.
type Scorer interface {
	Score(ctx context.Context, tx *domain.Transaction, user domain.UserContext, traceID string) (*domain.Evaluation, error)
}

// Worker consumes TopicTransactionIngested and hands each event to the
// scorer. Decisions are published by the scorer's recorder, not here.
type Worker struct {
	bus    domain.EventBus
	scorer Scorer

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           *semaphore.Weighted
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount bounds how many events are scored at once.
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, scorer Scorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		scorer: scorer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the ingestion topic.
func (w *Worker) Start(cfg Config) error {
	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.sem = semaphore.NewWeighted(int64(count))

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicTransactionIngested,
		"workers", count,
	)
	return nil
}

// handleMessage waits for a free slot and scores the event in the
// background so the bus keeps delivering.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	if err := w.sem.Acquire(w.ctx, 1); err != nil {
		return err
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		if err := w.process(w.ctx, msg); err != nil {
			w.failed.Add(1)
			return
		}
		w.processed.Add(1)
	}()
	return nil
}

func (w *Worker) process(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var event domain.IngestEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse ingest event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if event.Transaction == nil {
		err := errors.New("ingest event has no transaction")
		slog.Error("invalid ingest event", "message_id", msg.ID, "error", err)
		return err
	}

	traceID := event.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	eval, err := w.scorer.Score(ctx, event.Transaction, event.User, traceID)
	if err != nil {
		slog.Error("failed to score ingested transaction",
			"tx_id", event.Transaction.ID,
			"trace_id", traceID,
			"kind", domain.Classify(err),
			"error", err,
		)
		return err
	}

	slog.Info("transaction processed",
		"tx_id", eval.TxID,
		"trace_id", traceID,
		"status", eval.Status,
		"score", eval.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes and waits for in-flight events.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
