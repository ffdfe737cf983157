package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type call struct {
	tx      *domain.Transaction
	user    domain.UserContext
	traceID string
}

type fakeScorer struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeScorer) Score(ctx context.Context, tx *domain.Transaction, user domain.UserContext, traceID string) (*domain.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{tx: tx, user: user, traceID: traceID})
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Evaluation{ID: "eval-" + tx.ID, TxID: tx.ID, Status: domain.StatusNoAlert}, nil
}

func (f *fakeScorer) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func publish(t *testing.T, b domain.EventBus, event any) {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := b.Publish(context.Background(), domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &fakeScorer{})

		if err := w.Start(Config{WorkerCount: 2}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if len(stats.Topics) != 1 || stats.Topics[0] != domain.TopicTransactionIngested {
			t.Errorf("unexpected topics %v", stats.Topics)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if n := w.GetStats().SubscriptionCount; n != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", n)
		}
	})

	t.Run("ScoresIngestedTransaction", func(t *testing.T) {
		scorer := &fakeScorer{}
		w := NewWorker(eventBus, scorer)
		if err := w.Start(Config{WorkerCount: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		publish(t, eventBus, domain.IngestEvent{
			Transaction: &domain.Transaction{
				ID:        "tx-001",
				Timestamp: time.Date(2013, 3, 6, 14, 5, 0, 0, time.UTC),
				Name:      "Starbucks",
				Amount:    -12.4,
				Location:  "Oviedo FL",
			},
			User:    domain.UserContext{CreditScore: 700, Age: 30},
			TraceID: "trace-001",
		})

		waitFor(t, func() bool { return w.GetStats().Processed == 1 })

		calls := scorer.snapshot()
		if len(calls) != 1 {
			t.Fatalf("expected 1 scoring call, got %d", len(calls))
		}
		if calls[0].tx.ID != "tx-001" {
			t.Errorf("expected tx 'tx-001', got '%s'", calls[0].tx.ID)
		}
		if calls[0].user.CreditScore != 700 {
			t.Errorf("expected credit score 700, got %d", calls[0].user.CreditScore)
		}
		if calls[0].traceID != "trace-001" {
			t.Errorf("expected trace 'trace-001', got '%s'", calls[0].traceID)
		}
	})

	t.Run("TraceFallsBackToMessageID", func(t *testing.T) {
		scorer := &fakeScorer{}
		w := NewWorker(eventBus, scorer)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		publish(t, eventBus, domain.IngestEvent{
			Transaction: &domain.Transaction{ID: "tx-002", Name: "Target", Location: "Orlando FL"},
		})
		waitFor(t, func() bool { return len(scorer.snapshot()) == 1 })

		if scorer.snapshot()[0].traceID == "" {
			t.Error("expected trace id from message id")
		}
	})

	t.Run("CountsFailures", func(t *testing.T) {
		scorer := &fakeScorer{err: domain.ErrModelNotTrained}
		w := NewWorker(eventBus, scorer)
		if err := w.Start(Config{WorkerCount: 3}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		publish(t, eventBus, domain.IngestEvent{Transaction: &domain.Transaction{ID: "tx-003"}})
		publish(t, eventBus, domain.IngestEvent{})
		if err := eventBus.Publish(context.Background(), domain.TopicTransactionIngested, []byte("not json")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitFor(t, func() bool { return w.GetStats().Failed == 3 })
		if p := w.GetStats().Processed; p != 0 {
			t.Errorf("expected 0 processed, got %d", p)
		}
		if n := len(scorer.snapshot()); n != 1 {
			t.Errorf("expected only the well-formed event to be scored, got %d calls", n)
		}
	})
}

func TestWorkerDrainsOnStop(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	scorer := &fakeScorer{}
	w := NewWorker(eventBus, scorer)
	if err := w.Start(Config{WorkerCount: 4}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 20; i++ {
		publish(t, eventBus, domain.IngestEvent{Transaction: &domain.Transaction{ID: "tx"}})
	}
	waitFor(t, func() bool { return w.GetStats().Processed == 20 })

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if n := len(scorer.snapshot()); n != 20 {
		t.Errorf("expected 20 scoring calls, got %d", n)
	}
}
