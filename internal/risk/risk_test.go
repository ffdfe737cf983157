package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestCreditRisk(t *testing.T) {
	tests := []struct {
		score int
		want  float64
	}{
		{300, 0.2},
		{579, 0.2},
		{580, 0.1},
		{669, 0.1},
		{670, 0},
		{739, 0},
		{740, -0.1},
		{799, -0.1},
		{800, -0.15},
		{850, -0.15},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CreditRisk(tt.score), "score %d", tt.score)
	}
}

func TestAgeRisk(t *testing.T) {
	tests := []struct {
		age  int
		want float64
	}{
		{16, 0.3},
		{17, 0.3},
		{18, 0.2},
		{24, 0.2},
		{25, 0},
		{59, 0},
		{60, 0.3},
		{90, 0.3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AgeRisk(tt.age), "age %d", tt.age)
	}
}

func TestAdjust(t *testing.T) {
	t.Run("blends credit and age", func(t *testing.T) {
		// credit 0.1, age 0.2 -> 0.06 + 0.08 = 0.14 -> +0.014
		got, delta := Adjust(0.5, domain.UserContext{CreditScore: 600, Age: 20})
		assert.InDelta(t, 0.014, delta, 1e-12)
		assert.InDelta(t, 0.514, got, 1e-12)
	})

	t.Run("neutral user leaves probability unchanged", func(t *testing.T) {
		got, delta := Adjust(0.33, domain.UserContext{CreditScore: 700, Age: 40})
		assert.Zero(t, delta)
		assert.Equal(t, 0.33, got)
	})

	t.Run("clamps above one", func(t *testing.T) {
		got, _ := Adjust(0.99, domain.UserContext{CreditScore: 400, Age: 16})
		assert.Equal(t, 1.0, got)
	})

	t.Run("clamps below zero", func(t *testing.T) {
		got, delta := Adjust(0.0, domain.UserContext{CreditScore: 820, Age: 40})
		assert.InDelta(t, -0.009, delta, 1e-12)
		assert.Equal(t, 0.0, got)
	})
}
