package profile

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var testUser = domain.UserContext{CreditScore: 710, Age: 42}

func mkTx(t *testing.T, stamp, loc string, amount float64, fraud bool) domain.Transaction {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04", stamp)
	require.NoError(t, err)
	return domain.Transaction{
		ID:        stamp + loc,
		Timestamp: ts,
		Name:      "Publix",
		Amount:    amount,
		Location:  loc,
		Fraud:     &fraud,
	}
}

func sampleHistory(t *testing.T) []domain.Transaction {
	return []domain.Transaction{
		mkTx(t, "2024-01-01 14:05", "Oviedo FL", -40, false),
		mkTx(t, "2024-01-02 14:30", "Oviedo FL", -60, false),
		mkTx(t, "2024-01-03 15:10", "Orlando FL", -20, false),
		mkTx(t, "2024-01-04 15:45", "Orlando FL", -30, false),
		mkTx(t, "2024-01-05 14:50", "Winter Park FL", -55, false),
		mkTx(t, "2024-01-06 03:12", "Tokyo JP", -1500, true),
	}
}

func TestBuild(t *testing.T) {
	history := sampleHistory(t)

	m, labels, p, err := Build(history, testUser)
	require.NoError(t, err)

	t.Run("profile statistics", func(t *testing.T) {
		assert.Equal(t, 14, p.UsualHour)
		assert.Equal(t, []string{"Orlando FL", "Oviedo FL"}, p.UsualLocations)
		assert.Greater(t, p.HourTolerance, 0.0)
		assert.NotEmpty(t, p.ID)

		s14 := p.AmountStats[14]
		assert.InDelta(t, 155.0/3.0, s14.Mean, 1e-9)

		// single observation at 03:00 has no sample std
		assert.Equal(t, minStd, p.AmountStats[3].Std)
	})

	t.Run("schema order", func(t *testing.T) {
		want := append(domain.Schema{}, BaseColumns...)
		want = append(want, "location_Orlando FL", "location_Oviedo FL")
		assert.Equal(t, want, p.Schema)
		assert.Equal(t, p.Schema, m.Columns)
	})

	t.Run("rows aligned to schema", func(t *testing.T) {
		require.Len(t, m.Rows, len(history))
		for _, row := range m.Rows {
			require.Len(t, row, len(p.Schema))
			for _, v := range row {
				assert.False(t, math.IsNaN(v))
			}
		}
		assert.Equal(t, []int{0, 0, 0, 0, 0, 1}, labels)
	})

	t.Run("rows equal scoring-time derivation", func(t *testing.T) {
		for i := range history {
			row := Align(Derive(&history[i], testUser, p), p.Schema)
			assert.Equal(t, m.Rows[i], row)
		}
	})

	t.Run("fraud row is out of bounds", func(t *testing.T) {
		row := m.Rows[5]
		assert.Equal(t, 1.0, row[p.Schema.Index(ColOutOfBounds)])
		assert.Equal(t, 0.0, row[p.Schema.Index(ColUsualLocation)])
		assert.Equal(t, 1500.0, row[p.Schema.Index(ColAmount)])
	})
}

func TestSummarizeEdgeCases(t *testing.T) {
	t.Run("constant hour gives unit tolerance", func(t *testing.T) {
		history := []domain.Transaction{
			mkTx(t, "2024-01-01 09:00", "A", -10, false),
			mkTx(t, "2024-01-02 09:00", "A", -10, true),
		}
		p := Summarize(history)
		assert.Equal(t, 1.0, p.HourTolerance)
		// identical amounts have zero spread
		assert.Equal(t, minStd, p.AmountStats[9].Std)
	})

	t.Run("mode ties pick the earliest hour", func(t *testing.T) {
		history := []domain.Transaction{
			mkTx(t, "2024-01-01 18:00", "A", -10, false),
			mkTx(t, "2024-01-02 08:00", "A", -10, false),
			mkTx(t, "2024-01-03 18:00", "B", -10, true),
			mkTx(t, "2024-01-04 08:00", "B", -10, false),
		}
		assert.Equal(t, 8, Summarize(history).UsualHour)
	})

	t.Run("single-use locations are not usual", func(t *testing.T) {
		history := []domain.Transaction{
			mkTx(t, "2024-01-01 10:00", "A", -10, false),
			mkTx(t, "2024-01-02 10:00", "B", -10, true),
		}
		p := Summarize(history)
		assert.Empty(t, p.UsualLocations)
		assert.Equal(t, domain.Schema(BaseColumns), p.Schema)
	})
}

func TestValidate(t *testing.T) {
	good := mkTx(t, "2024-01-01 10:00", "A", -10, false)

	tests := []struct {
		name   string
		mutate func(tx *domain.Transaction)
	}{
		{"missing timestamp", func(tx *domain.Transaction) { tx.Timestamp = time.Time{} }},
		{"missing location", func(tx *domain.Transaction) { tx.Location = " " }},
		{"missing label", func(tx *domain.Transaction) { tx.Fraud = nil }},
		{"nan amount", func(tx *domain.Transaction) { tx.Amount = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := good
			tt.mutate(&bad)
			_, _, _, err := Build([]domain.Transaction{good, bad}, testUser)
			assert.True(t, errors.Is(err, domain.ErrMalformedHistory), "got %v", err)
		})
	}

	t.Run("empty history", func(t *testing.T) {
		assert.ErrorIs(t, Validate(nil), domain.ErrMalformedHistory)
	})
}

func TestDerive(t *testing.T) {
	p := &domain.Profile{
		UsualHour:      14,
		HourTolerance:  2,
		UsualLocations: []string{"Oviedo FL"},
		AmountStats: map[int]domain.HourStats{
			14: {Mean: 50, Std: 10},
			15: {Mean: 30, Std: 20},
		},
	}
	p.Schema = SchemaFor(p.UsualLocations)

	t.Run("out of bounds at night in a rare location", func(t *testing.T) {
		tx := mkTx(t, "2024-01-06 03:00", "Tokyo JP", -900, false)
		f := Derive(&tx, testUser, p)
		assert.Equal(t, 1.0, f[ColUnusualTime])
		assert.Equal(t, 0.0, f[ColUsualLocation])
		assert.Equal(t, 1.0, f[ColOutOfBounds])
		assert.Equal(t, 5.0, f[ColDayOfWeek])
	})

	t.Run("z-score is zero at the hour mean", func(t *testing.T) {
		tx := mkTx(t, "2024-01-01 14:20", "Oviedo FL", -50, false)
		f := Derive(&tx, testUser, p)
		assert.Equal(t, 0.0, f[ColAmountZScore])
		assert.Equal(t, 1.0, f[LocationPrefix+"Oviedo FL"])
		assert.Equal(t, 0.0, f[ColOutOfBounds])
		assert.Equal(t, 0.0, f[ColDayOfWeek])
	})

	t.Run("unseen hour uses global fallback", func(t *testing.T) {
		stats, seen := HourStatsFor(p, 22)
		assert.False(t, seen)
		assert.Equal(t, 40.0, stats.Mean)
		assert.Equal(t, 15.0, stats.Std)

		tx := mkTx(t, "2024-01-01 22:00", "Oviedo FL", -70, false)
		f := Derive(&tx, testUser, p)
		assert.InDelta(t, 2.0, f[ColAmountZScore], 1e-12)
	})

	t.Run("z-score is clipped", func(t *testing.T) {
		tiny := &domain.Profile{
			UsualHour:     10,
			HourTolerance: 1,
			AmountStats:   map[int]domain.HourStats{10: {Mean: 1, Std: minStd}},
			Schema:        SchemaFor(nil),
		}
		tx := mkTx(t, "2024-01-01 10:00", "A", -5000, false)
		assert.Equal(t, zClip, Derive(&tx, testUser, tiny)[ColAmountZScore])
	})
}

func TestUnseenHourFallbackIsStable(t *testing.T) {
	p := &domain.Profile{UsualHour: 12, HourTolerance: 3, AmountStats: map[int]domain.HourStats{}}
	for h := 0; h < 23; h++ {
		p.AmountStats[h] = domain.HourStats{
			Mean: 17.3/float64(h+3) + float64(h)*1.1e-3 + 1e7,
			Std:  0.1 + 1.0/float64(h+7),
		}
	}
	p.Schema = SchemaFor(nil)

	first, seen := HourStatsFor(p, 23)
	require.False(t, seen)

	tx := mkTx(t, "2024-01-01 23:15", "Oviedo FL", -10000123.45, false)
	want := math.Float64bits(Derive(&tx, testUser, p)[ColAmountZScore])

	for i := 0; i < 500; i++ {
		stats, _ := HourStatsFor(p, 23)
		require.Equal(t, math.Float64bits(first.Mean), math.Float64bits(stats.Mean), "iteration %d", i)
		require.Equal(t, math.Float64bits(first.Std), math.Float64bits(stats.Std), "iteration %d", i)

		got := math.Float64bits(Derive(&tx, testUser, p)[ColAmountZScore])
		require.Equal(t, want, got, "iteration %d", i)
	}
}

func TestAlign(t *testing.T) {
	schema := domain.Schema{"a", "b", "c"}

	row := Align(map[string]float64{"c": 3, "a": 1, "zzz": 9}, schema)
	assert.Equal(t, []float64{1, 0, 3}, row)

	row = Align(map[string]float64{"b": math.NaN()}, schema)
	assert.Equal(t, []float64{0, 0, 0}, row)

	assert.Empty(t, Align(map[string]float64{"a": 1}, nil))
}

func TestReadCSV(t *testing.T) {
	t.Run("date and time columns", func(t *testing.T) {
		in := "Date,Time,Name,Amount,Location,Zip,Balance,Fraud\n" +
			"2024-01-01,14:05:00,Publix,-40.5,Oviedo FL,32765,959.5,False\n" +
			"2024-01-02,03:12:00,Free Bitcoin,-1500,Tokyo JP,12345,-540.5,True\n"
		txs, err := ReadCSV(strings.NewReader(in))
		require.NoError(t, err)
		require.Len(t, txs, 2)

		assert.Equal(t, 14, txs[0].Timestamp.Hour())
		assert.Equal(t, "Publix", txs[0].Name)
		assert.Equal(t, -40.5, txs[0].Amount)
		assert.Equal(t, "32765", txs[0].Zip)
		assert.Equal(t, 959.5, txs[0].Balance)
		assert.Equal(t, 0, txs[0].Label())
		assert.Equal(t, 1, txs[1].Label())
		assert.NotEmpty(t, txs[1].ID)
	})

	t.Run("datetime column", func(t *testing.T) {
		in := "DateTime,Amount,Location,Fraud\n2024-01-01 09:30:00,12,A,0\n"
		txs, err := ReadCSV(strings.NewReader(in))
		require.NoError(t, err)
		assert.Equal(t, 9, txs[0].Timestamp.Hour())
	})

	t.Run("malformed input", func(t *testing.T) {
		cases := map[string]string{
			"no timestamp column": "Amount,Location,Fraud\n1,A,0\n",
			"no label column":     "DateTime,Amount,Location\n2024-01-01 09:30:00,1,A\n",
			"bad timestamp":       "DateTime,Amount,Location,Fraud\nyesterday,1,A,0\n",
			"bad amount":          "DateTime,Amount,Location,Fraud\n2024-01-01 09:30:00,lots,A,0\n",
			"bad label":           "DateTime,Amount,Location,Fraud\n2024-01-01 09:30:00,1,A,maybe\n",
			"empty input":         "",
		}
		for name, in := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := ReadCSV(strings.NewReader(in))
				assert.ErrorIs(t, err, domain.ErrMalformedHistory)
			})
		}
	})
}
