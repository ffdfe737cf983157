// Package rules explains fraud scores with CEL reason rules.
//
// A rule is a boolean CEL expression over the scored transaction. Rules do
// not change the probability; each rule that evaluates to true contributes
// its reason code to the evaluation.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
)

// Rule is a named CEL predicate.
type Rule struct {
	ID         string `json:"id"`
	Expression string `json:"expression"`
	Reason     string `json:"reason"`
}

// Reason codes produced by DefaultRules.
const (
	ReasonIllegitimatePayee = "illegitimate_payee"
	ReasonOutOfBounds       = "out_of_bounds"
	ReasonExtremeAmount     = "extreme_amount"
	ReasonUnusualTime       = "unusual_time"
	ReasonElevatedUserRisk  = "elevated_user_risk"
)

// DefaultRules returns the reason rules loaded at startup.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "payee-legitimacy", Expression: `!legitimate`, Reason: ReasonIllegitimatePayee},
		{ID: "out-of-bounds", Expression: `features.out_of_bounds == 1.0`, Reason: ReasonOutOfBounds},
		{
			ID:         "extreme-amount",
			Expression: `features.amount_hour_zscore > 3.0 || features.amount_hour_zscore < -3.0`,
			Reason:     ReasonExtremeAmount,
		},
		{
			ID:         "unusual-time",
			Expression: `features.unusual_time == 1.0 && features.out_of_bounds == 0.0`,
			Reason:     ReasonUnusualTime,
		},
		{ID: "user-risk", Expression: `risk_adjustment > 0.0`, Reason: ReasonElevatedUserRisk},
	}
}

// Engine evaluates compiled rules in load order.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   []*compiledRule
	maxWorkers int
}

type compiledRule struct {
	Rule
	program cel.Program
}

// Input is the activation for one evaluation.
type Input struct {
	Features       map[string]float64
	Legitimate     bool
	Probability    float64
	RawProbability float64
	RiskAdjustment float64
	Name           string
	Location       string
	Amount         float64
}

// NewEngine creates a rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	env, err := cel.NewEnv(
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("legitimate", cel.BoolType),
		cel.Variable("probability", cel.DoubleType),
		cel.Variable("raw_probability", cel.DoubleType),
		cel.Variable("risk_adjustment", cel.DoubleType),
		cel.Variable("name", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env, maxWorkers: maxWorkers}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(r Rule) error {
	_, err := e.compile(r)
	return err
}

// LoadRules replaces the loaded rule set. Nothing is replaced when any rule
// fails to compile.
func (e *Engine) LoadRules(rules []Rule) error {
	compiled := make([]*compiledRule, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %s", r.ID)
		}
		seen[r.ID] = true

		c, err := e.compile(r)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}

	e.mu.Lock()
	e.compiled = compiled
	e.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Evaluate runs every loaded rule and returns the reasons of those that
// matched, in load order. A rule that errors is logged and treated as not
// matched.
func (e *Engine) Evaluate(ctx context.Context, in *Input) []string {
	e.mu.RLock()
	rules := e.compiled
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	features := in.Features
	if features == nil {
		features = map[string]float64{}
	}
	activation := map[string]any{
		"features":        features,
		"legitimate":      in.Legitimate,
		"probability":     in.Probability,
		"raw_probability": in.RawProbability,
		"risk_adjustment": in.RiskAdjustment,
		"name":            in.Name,
		"location":        in.Location,
		"amount":          in.Amount,
	}

	matched := make([]bool, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, r := range rules {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out, _, err := r.program.ContextEval(ctx, activation)
			if err != nil {
				slog.Warn("reason rule failed", "rule_id", r.ID, "error", err)
				return
			}
			b, ok := out.Value().(bool)
			matched[i] = ok && b
		}()
	}
	wg.Wait()

	var reasons []string
	for i, r := range rules {
		if matched[i] {
			reasons = append(reasons, r.Reason)
		}
	}
	return reasons
}

func (e *Engine) compile(r Rule) (*compiledRule, error) {
	if r.ID == "" || r.Reason == "" {
		return nil, fmt.Errorf("rule id and reason are required")
	}

	ast, issues := e.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", r.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", r.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", r.ID, err)
	}
	return &compiledRule{Rule: r, program: program}, nil
}
