// Package profile derives the behavioral profile and feature rows that both
// training and scoring depend on.
package profile

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Base feature columns, in schema order.
const (
	ColAmount        = "amount"
	ColHour          = "hour"
	ColDayOfWeek     = "day_of_week"
	ColAmountZScore  = "amount_hour_zscore"
	ColUsualLocation = "usual_location"
	ColUnusualTime   = "unusual_time"
	ColOutOfBounds   = "out_of_bounds"
	ColCreditScore   = "credit_score"
	ColAge           = "age"

	// LocationPrefix prefixes the one-hot column of each usual location.
	LocationPrefix = "location_"
)

// BaseColumns lists the columns present in every schema.
var BaseColumns = []string{
	ColAmount,
	ColHour,
	ColDayOfWeek,
	ColAmountZScore,
	ColUsualLocation,
	ColUnusualTime,
	ColOutOfBounds,
	ColCreditScore,
	ColAge,
}

const (
	// zClip bounds the amount z-score.
	zClip = 1e6

	// minStd replaces a zero or undefined per-hour standard deviation.
	minStd = 1e-6
)

// Matrix is a dense feature table with named columns.
type Matrix struct {
	Columns domain.Schema
	Rows    [][]float64
}

// Column returns a copy of column j.
func (m *Matrix) Column(j int) []float64 {
	out := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		out[i] = row[j]
	}
	return out
}

// Build derives the profile from history and returns the training matrix and
// labels alongside it. Every row is produced by Derive against the returned
// profile, the same path used at scoring time.
func Build(history []domain.Transaction, user domain.UserContext) (*Matrix, []int, *domain.Profile, error) {
	if err := Validate(history); err != nil {
		return nil, nil, nil, err
	}

	p := Summarize(history)

	m := &Matrix{
		Columns: p.Schema,
		Rows:    make([][]float64, len(history)),
	}
	labels := make([]int, len(history))
	for i := range history {
		m.Rows[i] = Align(Derive(&history[i], user, p), p.Schema)
		labels[i] = history[i].Label()
	}

	return m, labels, p, nil
}

// Validate checks that every record carries the fields training needs.
func Validate(history []domain.Transaction) error {
	if len(history) == 0 {
		return fmt.Errorf("%w: history is empty", domain.ErrMalformedHistory)
	}
	for i := range history {
		tx := &history[i]
		switch {
		case tx.Timestamp.IsZero():
			return fmt.Errorf("%w: record %d has no timestamp", domain.ErrMalformedHistory, i)
		case strings.TrimSpace(tx.Location) == "":
			return fmt.Errorf("%w: record %d has no location", domain.ErrMalformedHistory, i)
		case math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0):
			return fmt.Errorf("%w: record %d has invalid amount", domain.ErrMalformedHistory, i)
		case tx.Fraud == nil:
			return fmt.Errorf("%w: record %d has no fraud label", domain.ErrMalformedHistory, i)
		}
	}
	return nil
}

// Summarize computes the profile statistics and schema from history.
// history must already be validated.
func Summarize(history []domain.Transaction) *domain.Profile {
	hours := make([]float64, len(history))
	hourCounts := make(map[int]int)
	locCounts := make(map[string]int)
	amountsByHour := make(map[int][]float64)

	for i := range history {
		tx := &history[i]
		h := tx.Timestamp.Hour()
		hours[i] = float64(h)
		hourCounts[h]++
		locCounts[tx.Location]++
		amountsByHour[h] = append(amountsByHour[h], math.Abs(tx.Amount))
	}

	usualHour := -1
	for h, c := range hourCounts {
		if usualHour < 0 || c > hourCounts[usualHour] || (c == hourCounts[usualHour] && h < usualHour) {
			usualHour = h
		}
	}

	tolerance := stat.StdDev(hours, nil)
	if math.IsNaN(tolerance) || tolerance <= 0 {
		tolerance = 1
	}

	var usual []string
	for loc, c := range locCounts {
		if c > 1 {
			usual = append(usual, loc)
		}
	}
	sort.Strings(usual)

	amountStats := make(map[int]domain.HourStats, len(amountsByHour))
	for h, amounts := range amountsByHour {
		std := stat.StdDev(amounts, nil)
		if math.IsNaN(std) || std == 0 {
			std = minStd
		}
		amountStats[h] = domain.HourStats{Mean: stat.Mean(amounts, nil), Std: std}
	}

	return &domain.Profile{
		ID:             uuid.New().String(),
		UsualHour:      usualHour,
		HourTolerance:  tolerance,
		UsualLocations: usual,
		AmountStats:    amountStats,
		Schema:         SchemaFor(usual),
		CreatedAt:      time.Now().UTC(),
	}
}

// SchemaFor returns the column order for the given usual locations.
func SchemaFor(usualLocations []string) domain.Schema {
	locs := append([]string(nil), usualLocations...)
	sort.Strings(locs)

	schema := make(domain.Schema, 0, len(BaseColumns)+len(locs))
	schema = append(schema, BaseColumns...)
	for _, loc := range locs {
		schema = append(schema, LocationPrefix+loc)
	}
	return schema
}

// HourStatsFor returns the amount stats for hour h. Hours absent from the
// history fall back to the mean of the per-hour means and standard deviations.
func HourStatsFor(p *domain.Profile, h int) (domain.HourStats, bool) {
	if s, ok := p.AmountStats[h]; ok {
		return s, true
	}
	if len(p.AmountStats) == 0 {
		return domain.HourStats{Std: minStd}, false
	}

	hours := make([]int, 0, len(p.AmountStats))
	for h := range p.AmountStats {
		hours = append(hours, h)
	}
	sort.Ints(hours)

	means := make([]float64, 0, len(hours))
	stds := make([]float64, 0, len(hours))
	for _, h := range hours {
		means = append(means, p.AmountStats[h].Mean)
		stds = append(stds, p.AmountStats[h].Std)
	}
	fallback := domain.HourStats{Mean: stat.Mean(means, nil), Std: stat.Mean(stds, nil)}
	if fallback.Std <= 0 {
		fallback.Std = minStd
	}
	return fallback, false
}

// Derive computes the named features of one transaction against a frozen
// profile. It never reads statistics from the transaction itself.
func Derive(tx *domain.Transaction, user domain.UserContext, p *domain.Profile) map[string]float64 {
	hour := tx.Timestamp.Hour()
	amount := math.Abs(tx.Amount)

	stats, _ := HourStatsFor(p, hour)
	z := (amount - stats.Mean) / stats.Std
	z = math.Max(-zClip, math.Min(zClip, z))

	usualLoc := p.IsUsualLocation(tx.Location)
	unusualTime := math.Abs(float64(hour-p.UsualHour)) > p.HourTolerance

	f := map[string]float64{
		ColAmount:        amount,
		ColHour:          float64(hour),
		ColDayOfWeek:     float64(DayOfWeek(tx.Timestamp)),
		ColAmountZScore:  z,
		ColUsualLocation: boolFloat(usualLoc),
		ColUnusualTime:   boolFloat(unusualTime),
		ColOutOfBounds:   boolFloat(unusualTime && !usualLoc),
		ColCreditScore:   float64(user.CreditScore),
		ColAge:           float64(user.Age),
	}
	if usualLoc {
		f[LocationPrefix+tx.Location] = 1
	}
	return f
}

// Align projects named features onto schema: one value per column, in
// schema order, zero for columns the features lack. Extra features are
// dropped.
func Align(features map[string]float64, schema domain.Schema) []float64 {
	row := make([]float64, len(schema))
	for i, col := range schema {
		v, ok := features[col]
		if !ok || math.IsNaN(v) {
			continue
		}
		row[i] = v
	}
	return row
}

// DayOfWeek returns the weekday with Monday as 0.
func DayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
