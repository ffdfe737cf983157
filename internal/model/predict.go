package model

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Predict scales an aligned row with the model's frozen scaler and returns
// the fraud-class probability.
func Predict(m *domain.Model, row []float64) (float64, error) {
	if m == nil {
		return 0, domain.ErrModelNotTrained
	}
	if len(row) != len(m.Schema) {
		return 0, fmt.Errorf("%w: row has %d columns, model expects %d",
			domain.ErrSchemaMismatch, len(row), len(m.Schema))
	}
	return PredictForest(m.Trees, Transform(m.Scaler, row)), nil
}
