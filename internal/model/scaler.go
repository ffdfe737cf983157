package model

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FitScaler computes per-column mean and population standard deviation.
// Constant columns get a unit scale.
func FitScaler(rows [][]float64, nCols int) domain.Scaler {
	s := domain.Scaler{
		Mean:  make([]float64, nCols),
		Scale: make([]float64, nCols),
	}
	col := make([]float64, len(rows))
	for j := 0; j < nCols; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean[j] = mean
		s.Scale[j] = std
	}
	return s
}

// Transform standardizes row with a fitted scaler.
func Transform(s domain.Scaler, row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

func transformAll(s domain.Scaler, rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = Transform(s, row)
	}
	return out
}
