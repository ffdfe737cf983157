package scoring

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/legitimacy"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/synth"
)

var (
	fixtureOnce    sync.Once
	fixtureProfile *domain.Profile
	fixtureModel   *domain.Model
	fixtureErr     error
)

var user = domain.UserContext{CreditScore: 710, Age: 42}

func artifacts(t *testing.T) (*domain.Profile, *domain.Model) {
	t.Helper()
	fixtureOnce.Do(func() {
		opts := synth.DefaultOptions()
		opts.Entries = 600
		m, labels, p, err := profile.Build(synth.Generate(opts), user)
		if err != nil {
			fixtureErr = err
			return
		}
		params := model.DefaultParams()
		params.Trees = 40
		fixtureModel, fixtureErr = model.NewTrainer(params).Train(context.Background(), m, labels, p)
		fixtureProfile = p
	})
	require.NoError(t, fixtureErr)
	return fixtureProfile, fixtureModel
}

// staticVerifier answers the same verdict for every name and counts calls.
type staticVerifier struct {
	legit bool
	calls atomic.Int32
	names sync.Map
}

func (v *staticVerifier) IsLegitimate(ctx context.Context, name string) bool {
	v.calls.Add(1)
	v.names.Store(name, true)
	return v.legit
}

func coffee() *domain.Transaction {
	return &domain.Transaction{
		ID:        "tx-coffee",
		Timestamp: time.Date(2013, 3, 6, 14, 5, 0, 0, time.UTC),
		Name:      "Starbucks",
		Amount:    -12.4,
		Location:  "Oviedo FL",
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	p, m := artifacts(t)
	engine := NewEngine(&staticVerifier{legit: true}, domain.ScoringConfig{})

	first, err := engine.Score(context.Background(), coffee(), user, p, m)
	require.NoError(t, err)
	second, err := engine.Score(context.Background(), coffee(), user, p, m)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.GreaterOrEqual(t, first.Probability, 0.0)
	assert.LessOrEqual(t, first.Probability, 1.0)
}

func TestScoreFeaturesFollowSchema(t *testing.T) {
	p, m := artifacts(t)
	engine := NewEngine(&staticVerifier{legit: true}, domain.ScoringConfig{})

	tx := coffee()
	tx.Location = "Somewhere New"
	score, err := engine.Score(context.Background(), tx, user, p, m)
	require.NoError(t, err)

	require.Len(t, score.Features, len(p.Schema))
	for _, col := range p.Schema {
		_, ok := score.Features[col]
		assert.True(t, ok, "missing column %s", col)
	}
	assert.Equal(t, 0.0, score.Features[profile.ColUsualLocation])
	assert.Equal(t, 12.4, score.Features[profile.ColAmount])
}

func TestIllegitimatePayeeFloor(t *testing.T) {
	p, m := artifacts(t)
	legit := NewEngine(&staticVerifier{legit: true}, domain.ScoringConfig{})
	verifier := &staticVerifier{legit: false}
	shady := NewEngine(verifier, domain.ScoringConfig{})

	base, err := legit.Score(context.Background(), coffee(), user, p, m)
	require.NoError(t, err)
	require.Less(t, base.RawProbability, DefaultIllegitimateFloor)

	got, err := shady.Score(context.Background(), coffee(), user, p, m)
	require.NoError(t, err)

	assert.False(t, got.Legitimate)
	assert.Equal(t, base.RawProbability, got.RawProbability, "override does not touch the model output")
	assert.GreaterOrEqual(t, got.Probability, DefaultIllegitimateFloor)
	assert.Equal(t, int32(1), verifier.calls.Load())
	_, asked := verifier.names.Load("Starbucks")
	assert.True(t, asked)

	t.Run("risk blended once after floor", func(t *testing.T) {
		risky := domain.UserContext{CreditScore: 500, Age: 30}
		got, err := shady.Score(context.Background(), coffee(), risky, p, m)
		require.NoError(t, err)
		assert.InDelta(t, 0.012, got.RiskAdjustment, 1e-12)
		assert.InDelta(t, DefaultIllegitimateFloor+0.012, got.Probability, 1e-12)
	})

	t.Run("configured floor", func(t *testing.T) {
		e := NewEngine(&staticVerifier{legit: false}, domain.ScoringConfig{IllegitimateFloor: 0.75})
		got, err := e.Score(context.Background(), coffee(), user, p, m)
		require.NoError(t, err)
		assert.InDelta(t, 0.75, got.Probability, 1e-12)
	})
}

func TestRiskAdjustmentClamps(t *testing.T) {
	p, m := artifacts(t)
	engine := NewEngine(&staticVerifier{legit: false}, domain.ScoringConfig{IllegitimateFloor: 1})

	teen := domain.UserContext{CreditScore: 500, Age: 16}
	got, err := engine.Score(context.Background(), coffee(), teen, p, m)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Probability)
	assert.Greater(t, got.RiskAdjustment, 0.0)
}

func TestFraudLikeTransactionScoresHigher(t *testing.T) {
	p, m := artifacts(t)
	engine := NewEngine(&staticVerifier{legit: true}, domain.ScoringConfig{})

	normal, err := engine.Score(context.Background(), coffee(), user, p, m)
	require.NoError(t, err)

	odd, err := engine.Score(context.Background(), &domain.Transaction{
		ID:        "tx-odd",
		Timestamp: time.Date(2013, 3, 6, 3, 12, 0, 0, time.UTC),
		Name:      "Free Bitcoin",
		Amount:    -1450,
		Location:  "Tokyo JP",
	}, user, p, m)
	require.NoError(t, err)

	assert.Greater(t, odd.RawProbability, normal.RawProbability)
}

func TestUnseenHourUsesFallback(t *testing.T) {
	p, m := artifacts(t)
	engine := NewEngine(&staticVerifier{legit: true}, domain.ScoringConfig{})

	pruned := *p
	pruned.AmountStats = make(map[int]domain.HourStats, len(p.AmountStats))
	for h, s := range p.AmountStats {
		if h != 14 {
			pruned.AmountStats[h] = s
		}
	}

	score, err := engine.Score(context.Background(), coffee(), user, &pruned, m)
	require.NoError(t, err)

	want, _ := profile.HourStatsFor(&pruned, 14)
	assert.InDelta(t, (12.4-want.Mean)/want.Std, score.Features[profile.ColAmountZScore], 1e-9)
}

func TestScoreErrors(t *testing.T) {
	p, m := artifacts(t)
	engine := NewEngine(legitimacy.Chain{}, domain.ScoringConfig{})
	ctx := context.Background()

	t.Run("not trained", func(t *testing.T) {
		_, err := engine.Score(ctx, coffee(), user, nil, nil)
		assert.ErrorIs(t, err, domain.ErrModelNotTrained)
		_, err = engine.Score(ctx, coffee(), user, p, nil)
		assert.ErrorIs(t, err, domain.ErrModelNotTrained)
	})

	t.Run("foreign profile", func(t *testing.T) {
		other := *p
		other.ID = "another-run"
		_, err := engine.Score(ctx, coffee(), user, &other, m)
		assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
	})

	t.Run("schema drift", func(t *testing.T) {
		other := *p
		other.Schema = append(domain.Schema{}, p.Schema...)
		other.Schema = append(other.Schema, "location_Nowhere")
		_, err := engine.Score(ctx, coffee(), user, &other, m)
		assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
	})

	t.Run("missing user context", func(t *testing.T) {
		_, err := engine.Score(ctx, coffee(), domain.UserContext{Age: 30}, p, m)
		assert.ErrorIs(t, err, domain.ErrMalformedInput)
	})

	t.Run("zero timestamp", func(t *testing.T) {
		tx := coffee()
		tx.Timestamp = time.Time{}
		_, err := engine.Score(ctx, tx, user, p, m)
		assert.ErrorIs(t, err, domain.ErrMalformedInput)
	})
}
