// Package risk maps demographic inputs to score adjustments.
package risk

import "github.com/opensource-finance/kestrel/internal/domain"

// Blend weights and the scale applied to the combined adjustment.
const (
	CreditWeight = 0.6
	AgeWeight    = 0.4
	Scale        = 0.1
)

// CreditRisk returns the adjustment for a credit score.
func CreditRisk(score int) float64 {
	switch {
	case score < 580:
		return 0.2
	case score < 670:
		return 0.1
	case score < 740:
		return 0
	case score < 800:
		return -0.1
	default:
		return -0.15
	}
}

// AgeRisk returns the adjustment for an age in years.
func AgeRisk(age int) float64 {
	switch {
	case age < 18:
		return 0.3
	case age < 25:
		return 0.2
	case age < 60:
		return 0
	default:
		return 0.3
	}
}

// Combined is the weighted blend of credit and age risk.
func Combined(user domain.UserContext) float64 {
	return CreditWeight*CreditRisk(user.CreditScore) + AgeWeight*AgeRisk(user.Age)
}

// Adjust blends the user's risk into p and clamps the result to [0,1].
// It returns the adjusted probability and the delta that was added.
func Adjust(p float64, user domain.UserContext) (float64, float64) {
	delta := Scale * Combined(user)
	return Clamp(p + delta), delta
}

// Clamp limits p to [0,1].
func Clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
