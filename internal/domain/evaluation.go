package domain

import (
	"time"
)

// FraudScore is the outcome of scoring one transaction.
type FraudScore struct {
	// Probability is the final score in [0,1].
	Probability float64 `json:"probability"`

	// RawProbability is the classifier output before overrides.
	RawProbability float64 `json:"rawProbability"`

	Legitimate     bool               `json:"legitimate"`
	RiskAdjustment float64            `json:"riskAdjustment"`
	Features       map[string]float64 `json:"features"`

	// Fraud is the binary verdict set by Decide.
	Fraud     bool    `json:"fraud"`
	Threshold float64 `json:"threshold"`
}

// Decide sets the binary verdict: fraud when Probability reaches threshold.
func (s *FraudScore) Decide(threshold float64) bool {
	s.Threshold = threshold
	s.Fraud = s.Probability >= threshold
	return s.Fraud
}

// Evaluation is the recorded decision for a scored transaction.
type Evaluation struct {
	ID        string    `json:"id"`
	TxID      string    `json:"txId"`
	Status    string    `json:"status"` // "ALRT" or "NALT"
	Score     float64   `json:"score"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`

	ProfileID string `json:"profileId"`
	ModelID   string `json:"modelId"`

	Result  *FraudScore `json:"result"`
	Reasons []string    `json:"reasons,omitempty"`

	Metadata EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID       string `json:"traceId"`
	ScoreMs       int64  `json:"scoreMs"`
	DecisionMs    int64  `json:"decisionMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// EvaluationResponse is the API response for a scored transaction.
type EvaluationResponse struct {
	EvaluationID string             `json:"evaluationId"`
	TxID         string             `json:"txId"`
	Status       string             `json:"status"` // "PASS" or "ALERT"
	Fraud        bool               `json:"fraud"`
	Score        float64            `json:"score"`
	Legitimate   bool               `json:"legitimate"`
	Reasons      []string           `json:"reasons,omitempty"`
	Metadata     EvaluationMetadata `json:"metadata"`
}

// Decision status constants
const (
	StatusAlert   = "ALRT"
	StatusNoAlert = "NALT"
)

// API-friendly status
const (
	StatusPass = "PASS"
	StatusFail = "ALERT"
)

// Flagged reports whether the evaluation raised an alert.
func (e *Evaluation) Flagged() bool {
	return e.Status == StatusAlert
}

// ToResponse converts an Evaluation to an API response.
func (e *Evaluation) ToResponse() *EvaluationResponse {
	status := StatusPass
	if e.Flagged() {
		status = StatusFail
	}

	legit := true
	if e.Result != nil {
		legit = e.Result.Legitimate
	}

	return &EvaluationResponse{
		EvaluationID: e.ID,
		TxID:         e.TxID,
		Status:       status,
		Fraud:        e.Flagged(),
		Score:        e.Score,
		Legitimate:   legit,
		Reasons:      e.Reasons,
		Metadata:     e.Metadata,
	}
}

// DecisionEvent is broadcast to downstream recorders after each decision.
type DecisionEvent struct {
	EvaluationID string       `json:"evaluationId"`
	Transaction  *Transaction `json:"transaction"`
	Status       string       `json:"status"`
	Score        float64      `json:"score"`
	Fraud        bool         `json:"fraud"`
	DataHash     string       `json:"dataHash"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Verdict is a cached legitimacy decision for a normalized payee name.
type Verdict struct {
	Name       string    `json:"name"`
	Legitimate bool      `json:"legitimate"`
	Source     string    `json:"source"`
	CheckedAt  time.Time `json:"checkedAt"`
}
