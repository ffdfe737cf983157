package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(4)
	require.NoError(t, err)
	require.NoError(t, engine.LoadRules(DefaultRules()))
	return engine
}

func features(overrides map[string]float64) map[string]float64 {
	f := map[string]float64{
		"amount":             42,
		"hour":               14,
		"day_of_week":        2,
		"amount_hour_zscore": 0,
		"usual_location":     1,
		"unusual_time":       0,
		"out_of_bounds":      0,
		"credit_score":       710,
		"age":                42,
	}
	for k, v := range overrides {
		f[k] = v
	}
	return f
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(0)
	require.NoError(t, err)
	assert.Equal(t, 0, engine.RulesCount())
	assert.Nil(t, engine.Evaluate(context.Background(), &Input{}))
}

func TestDefaultRulesCompile(t *testing.T) {
	engine := defaultEngine(t)
	assert.Equal(t, len(DefaultRules()), engine.RulesCount())
}

func TestLoadRulesRejectsInvalid(t *testing.T) {
	engine := defaultEngine(t)

	tests := []struct {
		name string
		rule Rule
	}{
		{"syntax", Rule{ID: "bad", Expression: "this is not valid CEL !!!", Reason: "x"}},
		{"non-bool", Rule{ID: "num", Expression: "amount * 2.0", Reason: "x"}},
		{"unknown variable", Rule{ID: "var", Expression: "velocity_count > 3", Reason: "x"}},
		{"missing reason", Rule{ID: "noreason", Expression: "legitimate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, engine.ValidateRule(tt.rule))
			assert.Error(t, engine.LoadRules([]Rule{tt.rule}))
		})
	}

	assert.Equal(t, len(DefaultRules()), engine.RulesCount(), "failed load keeps previous rules")

	dup := []Rule{
		{ID: "a", Expression: "legitimate", Reason: "x"},
		{ID: "a", Expression: "legitimate", Reason: "y"},
	}
	assert.Error(t, engine.LoadRules(dup))
}

func TestEvaluateDefaultRules(t *testing.T) {
	engine := defaultEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input *Input
		want  []string
	}{
		{
			name:  "clean transaction",
			input: &Input{Features: features(nil), Legitimate: true, RiskAdjustment: 0},
			want:  nil,
		},
		{
			name:  "illegitimate payee",
			input: &Input{Features: features(nil), Legitimate: false},
			want:  []string{ReasonIllegitimatePayee},
		},
		{
			name: "out of bounds suppresses unusual time",
			input: &Input{
				Features:   features(map[string]float64{"unusual_time": 1, "out_of_bounds": 1, "usual_location": 0}),
				Legitimate: true,
			},
			want: []string{ReasonOutOfBounds},
		},
		{
			name:  "unusual time at a usual location",
			input: &Input{Features: features(map[string]float64{"unusual_time": 1}), Legitimate: true},
			want:  []string{ReasonUnusualTime},
		},
		{
			name:  "extreme negative z-score",
			input: &Input{Features: features(map[string]float64{"amount_hour_zscore": -4.2}), Legitimate: true},
			want:  []string{ReasonExtremeAmount},
		},
		{
			name: "everything at once keeps load order",
			input: &Input{
				Features: features(map[string]float64{
					"amount_hour_zscore": 12, "unusual_time": 1, "out_of_bounds": 1,
				}),
				Legitimate:     false,
				RiskAdjustment: 0.02,
			},
			want: []string{ReasonIllegitimatePayee, ReasonOutOfBounds, ReasonExtremeAmount, ReasonElevatedUserRisk},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.Evaluate(ctx, tt.input))
		})
	}
}

func TestEvaluateMissingFeatureIsNotMatched(t *testing.T) {
	engine := defaultEngine(t)

	// only the legitimacy and risk rules can evaluate without features
	got := engine.Evaluate(context.Background(), &Input{Legitimate: false, RiskAdjustment: 0.1})
	assert.Equal(t, []string{ReasonIllegitimatePayee, ReasonElevatedUserRisk}, got)
}

func TestCustomRules(t *testing.T) {
	engine, err := NewEngine(2)
	require.NoError(t, err)

	require.NoError(t, engine.LoadRules([]Rule{
		{ID: "big", Expression: "amount > 1000.0", Reason: "large_amount"},
		{ID: "abroad", Expression: `location.startsWith("Intl")`, Reason: "foreign"},
		{ID: "score", Expression: "probability - raw_probability > 0.5", Reason: "override"},
	}))

	got := engine.Evaluate(context.Background(), &Input{
		Amount:         2500,
		Location:       "Intl Airport",
		Probability:    0.95,
		RawProbability: 0.1,
	})
	assert.Equal(t, []string{"large_amount", "foreign", "override"}, got)
}
