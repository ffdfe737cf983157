package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestProcessor(t *testing.T) {
	proc := NewProcessor(0.4)
	ctx := context.Background()

	tests := []struct {
		name       string
		prob       float64
		wantStatus string
	}{
		{"below threshold", 0.39, domain.StatusNoAlert},
		{"at threshold", 0.4, domain.StatusAlert},
		{"clamped illegitimate", 0.9, domain.StatusAlert},
		{"zero", 0, domain.StatusNoAlert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := &domain.FraudScore{Probability: tt.prob, Legitimate: true}
			eval := proc.Process(ctx, &Input{
				TxID:      "tx-001",
				TraceID:   "trace-001",
				Score:     score,
				ProfileID: "p1",
				ModelID:   "m1",
				StartTime: time.Now(),
			})

			assert.Equal(t, tt.wantStatus, eval.Status)
			assert.Equal(t, tt.wantStatus == domain.StatusAlert, score.Fraud)
			assert.Equal(t, 0.4, score.Threshold)
			assert.Equal(t, tt.prob, eval.Score)
			assert.Equal(t, ShouldAlert(eval), eval.Flagged())
			assert.Equal(t, "trace-001", eval.Metadata.TraceID)
			assert.Equal(t, EngineVersion, eval.Metadata.EngineVersion)
			assert.NotEmpty(t, eval.ID)
			assert.Equal(t, "p1", eval.ProfileID)
		})
	}
}

func TestNewProcessorDefaults(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewProcessor(0).Threshold)
	assert.Equal(t, DefaultThreshold, NewProcessor(1.5).Threshold)
	assert.Equal(t, 0.7, NewProcessor(0.7).Threshold)
}

func TestResponse(t *testing.T) {
	proc := NewProcessor(0.4)
	eval := proc.Process(context.Background(), &Input{
		TxID:    "tx-9",
		Score:   &domain.FraudScore{Probability: 0.95, Legitimate: false},
		Reasons: []string{"illegitimate_payee"},
	})

	resp := eval.ToResponse()
	assert.Equal(t, domain.StatusFail, resp.Status)
	assert.True(t, resp.Fraud)
	assert.False(t, resp.Legitimate)
	assert.Equal(t, []string{"illegitimate_payee"}, resp.Reasons)
	assert.Zero(t, eval.Metadata.TotalMs)
}
