package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Schema is the ordered list of feature columns a model was trained on.
type Schema []string

// Equal reports whether both schemas list the same columns in the same order.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Index returns the position of column name, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s {
		if c == name {
			return i
		}
	}
	return -1
}

// Fingerprint is a stable hash of the column list.
func (s Schema) Fingerprint() string {
	sum := sha256.Sum256([]byte(strings.Join(s, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// HourStats holds the amount distribution for one hour of day.
type HourStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Profile is the behavioral summary learned from one user's history.
type Profile struct {
	ID             string            `json:"id"`
	UsualHour      int               `json:"usualHour"`
	HourTolerance  float64           `json:"hourTolerance"`
	UsualLocations []string          `json:"usualLocations"`
	AmountStats    map[int]HourStats `json:"amountStats"`
	Schema         Schema            `json:"schema"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// IsUsualLocation reports whether loc was seen more than once in history.
func (p *Profile) IsUsualLocation(loc string) bool {
	for _, l := range p.UsualLocations {
		if l == loc {
			return true
		}
	}
	return false
}

// Scaler is a frozen per-column standardization.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// TreeNode is one node of a decision tree. Leaves have Feature == -1.
type TreeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	// Value is the fraud-class probability at a leaf.
	Value float64 `json:"v,omitempty"`
}

// Tree is a flattened decision tree rooted at Nodes[0].
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// Model is a trained classifier bound to the schema of its profile.
type Model struct {
	ID          string             `json:"id"`
	ProfileID   string             `json:"profileId"`
	Schema      Schema             `json:"schema"`
	Scaler      Scaler             `json:"scaler"`
	Trees       []Tree             `json:"trees"`
	Importances map[string]float64 `json:"importances"`
	Report      *TrainingReport    `json:"report,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// TrainingReport summarizes held-out performance of a training run.
type TrainingReport struct {
	TrainRows       int                `json:"trainRows"`
	TestRows        int                `json:"testRows"`
	ClassesBefore   map[int]int        `json:"classesBefore"`
	ClassesAfter    map[int]int        `json:"classesAfter"`
	AUC             float64            `json:"auc"`
	Precision       float64            `json:"precision"`
	Recall          float64            `json:"recall"`
	F1              float64            `json:"f1"`
	Accuracy        float64            `json:"accuracy"`
	Confusion       ConfusionMatrix    `json:"confusion"`
	TopFeatures     []FeatureWeight    `json:"topFeatures"`
	TrainDurationMs int64              `json:"trainDurationMs"`
}

// ConfusionMatrix counts test predictions at the 0.5 cut.
type ConfusionMatrix struct {
	TruePositive  int `json:"tp"`
	FalsePositive int `json:"fp"`
	TrueNegative  int `json:"tn"`
	FalseNegative int `json:"fn"`
}

// FeatureWeight pairs a column with its importance.
type FeatureWeight struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// Artifacts is the immutable profile/model pair produced by one training run.
type Artifacts struct {
	Profile *Profile `json:"profile"`
	Model   *Model   `json:"model"`
}
