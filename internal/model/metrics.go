package model

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Evaluate fills the held-out metrics of a report from predicted
// probabilities and true labels. Classification metrics use a 0.5 cut. AUC
// stays zero when the labels hold a single class.
func Evaluate(report *domain.TrainingReport, probs []float64, labels []int) {
	var cm domain.ConfusionMatrix
	for i, p := range probs {
		pred := p >= 0.5
		actual := labels[i] == 1
		switch {
		case pred && actual:
			cm.TruePositive++
		case pred && !actual:
			cm.FalsePositive++
		case !pred && actual:
			cm.FalseNegative++
		default:
			cm.TrueNegative++
		}
	}
	report.Confusion = cm

	report.Precision = ratio(cm.TruePositive, cm.TruePositive+cm.FalsePositive)
	report.Recall = ratio(cm.TruePositive, cm.TruePositive+cm.FalseNegative)
	if report.Precision+report.Recall > 0 {
		report.F1 = 2 * report.Precision * report.Recall / (report.Precision + report.Recall)
	}
	report.Accuracy = ratio(cm.TruePositive+cm.TrueNegative, len(probs))
	if auc := AUC(probs, labels); !math.IsNaN(auc) {
		report.AUC = auc
	}
}

// AUC returns the area under the ROC curve, or NaN when the labels hold a
// single class.
func AUC(probs []float64, labels []int) float64 {
	y := append([]float64(nil), probs...)
	classes := make([]bool, len(labels))
	var pos int
	for i, l := range labels {
		classes[i] = l == 1
		if classes[i] {
			pos++
		}
	}
	if pos == 0 || pos == len(labels) {
		return math.NaN()
	}

	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// TopFeatures returns the n most important columns, highest first.
func TopFeatures(importances map[string]float64, n int) []domain.FeatureWeight {
	out := make([]domain.FeatureWeight, 0, len(importances))
	for f, v := range importances {
		out = append(out, domain.FeatureWeight{Feature: f, Importance: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Feature < out[j].Feature
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
