// Package synth generates labeled transaction histories for demos,
// benchmarks and tests.
package synth

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Options configures a generated history.
type Options struct {
	Entries     int
	CreditScore int
	Age         int
	Seed        int64
	Start       time.Time

	// FraudRate is the daily probability of one fraudulent purchase.
	FraudRate float64
}

// DefaultOptions returns the options used for the bundled demo dataset.
func DefaultOptions() Options {
	return Options{
		Entries:     1000,
		CreditScore: 710,
		Age:         42,
		Seed:        42,
		Start:       time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC),
		FraudRate:   0.1,
	}
}

var homeLocations = []struct{ name, zip string }{
	{"Oviedo FL", "32765"},
	{"Orlando FL", "32816"},
	{"Winter Park FL", "32789"},
}

var fraudLocations = []string{
	"Los Angeles CA", "New York NY", "London EN", "Pittsburgh PA", "Honolulu HI",
	"Tokyo JP", "Charleston SC", "Mexico City MC", "Anchorage AL", "Groton CT",
}

var fraudNames = []string{
	"Paypal", "Online", "Valley", "Unknown", "User", "ComputerPart", "Free Bitcoin",
}

type category struct {
	weight   float64
	min, max float64
	names    []string
}

var categories = []category{
	{1.5, 10, 150, []string{"Amazon", "Target", "Best Buy", "Walmart", "Home Depot", "Petco"}},
	{1, 30, 100, []string{"Kroger", "Publix", "Trader Joe's", "Whole Foods", "Lowes Foods"}},
	{3, 5, 40, []string{"McDonald's", "Starbucks", "Subway", "Panera", "Smoothie King", "Qdoba"}},
	{1, 10, 30, []string{"Shell", "BP", "Chevron", "Exxon", "7-Eleven", "Racetrac", "Wawa"}},
	{0.5, 40, 200, []string{"AutoZone", "Midas", "Pep Boys", "Take5", "Valvoline"}},
	{1, 10, 60, []string{"Movie Theater", "Concert Tickets", "Disney World", "Movie Rental"}},
	{1, 5, 50, []string{"Walgreens", "CVS", "Dollar Tree", "Five Below", "Gamestop"}},
}

type generator struct {
	opts    Options
	rng     *rand.Rand
	balance float64
	out     []domain.Transaction
}

// Generate produces a deterministic history for opts: a biweekly paycheck,
// monthly bills, several daily purchases around the user's habitual hours
// and locations, and occasional fraudulent night-time purchases elsewhere.
func Generate(opts Options) []domain.Transaction {
	if opts.Entries <= 0 {
		opts.Entries = DefaultOptions().Entries
	}
	if opts.CreditScore <= 0 {
		opts.CreditScore = DefaultOptions().CreditScore
	}
	if opts.Age <= 0 {
		opts.Age = DefaultOptions().Age
	}
	if opts.Start.IsZero() {
		opts.Start = DefaultOptions().Start
	}

	g := &generator{
		opts:    opts,
		rng:     rand.New(rand.NewSource(opts.Seed)),
		balance: 3745.87,
	}

	paycheck := 3000.0
	credit := float64(opts.CreditScore)
	age := float64(opts.Age)
	rent := round2(-paycheck / 2 * (40 / age))
	monthly := []struct {
		name   string
		amount float64
	}{
		{"Rent", rent},
		{"Insurance", -200},
		{"Car", round2(-paycheck / 12 * (800 / credit))},
		{"Utilities", round2(rent / 10)},
	}
	weekly := []struct {
		name   string
		amount float64
	}{
		{"Spotify", -12},
		{"Internet", -70},
		{"Streaming", round2(-25 * (40 / age))},
	}

	day := opts.Start
	nextPay := day
	for len(g.out) < opts.Entries {
		if day.Equal(nextPay) {
			g.add(day, 8, 0, "Paycheck", paycheck, homeLocations[0].name, homeLocations[0].zip, false)
			nextPay = nextPay.AddDate(0, 0, 14)
		}
		switch day.Day() {
		case 1:
			for _, b := range monthly {
				g.add(day, 9, 0, b.name, b.amount, homeLocations[0].name, homeLocations[0].zip, false)
			}
		case 7:
			for _, b := range weekly {
				g.add(day, 9, 0, b.name, b.amount, homeLocations[0].name, homeLocations[0].zip, false)
			}
		}

		for n := g.rng.Intn(6); n > 0; n-- {
			g.purchase(day)
		}
		if g.rng.Float64() < opts.FraudRate {
			g.fraud(day)
		}
		day = day.AddDate(0, 0, 1)
	}

	return g.out[:opts.Entries]
}

func (g *generator) add(day time.Time, hour, minute int, name string, amount float64, loc, zip string, fraud bool) {
	g.balance = round2(g.balance + amount)
	f := fraud
	g.out = append(g.out, domain.Transaction{
		ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%d-%d", g.opts.Seed, len(g.out)))).String(),
		Timestamp: time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC),
		Name:      name,
		Amount:    amount,
		Location:  loc,
		Zip:       zip,
		Balance:   g.balance,
		Fraud:     &f,
	})
}

func (g *generator) purchase(day time.Time) {
	c := g.pickCategory()
	name := c.names[g.rng.Intn(len(c.names))]
	amount := -(c.min + g.rng.Float64()*(c.max-c.min))

	balanceMod := 1.0
	switch {
	case g.balance > 12000:
		balanceMod = 3
	case g.balance > 10000:
		balanceMod = 2.5
	case g.balance > 8000:
		balanceMod = 2
	case g.balance > 6000:
		balanceMod = 1.5
	}
	amount = round2(amount * balanceMod * 800 / float64(g.opts.CreditScore))

	start, end := g.opts.Age%24, (g.opts.Age+6)%24
	if start > end {
		start, end = end, start
	}
	hour := start + g.rng.Intn(end-start+1)

	loc := homeLocations[g.rng.Intn(len(homeLocations))]
	g.add(day, hour, g.rng.Intn(60), name, amount, loc.name, loc.zip, false)
}

func (g *generator) fraud(day time.Time) {
	loc := fraudLocations[g.rng.Intn(len(fraudLocations))]
	name := fraudNames[g.rng.Intn(len(fraudNames))]
	amount := round2(-(100 + g.rng.Float64()*1700))
	zip := strconv.Itoa(11111 + g.rng.Intn(88889))
	g.add(day, g.rng.Intn(6), g.rng.Intn(60), name, amount, loc, zip, true)
}

func (g *generator) pickCategory() category {
	var total float64
	for _, c := range categories {
		total += c.weight
	}
	r := g.rng.Float64() * total
	for _, c := range categories {
		if r < c.weight {
			return c
		}
		r -= c.weight
	}
	return categories[len(categories)-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// WriteCSV writes txs in the Date,Time,Name,Amount,Location,Zip,Balance,Fraud
// layout accepted by profile.ReadCSV.
func WriteCSV(w io.Writer, txs []domain.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Date", "Time", "Name", "Amount", "Location", "Zip", "Balance", "Fraud"}); err != nil {
		return err
	}
	for i := range txs {
		tx := &txs[i]
		rec := []string{
			tx.Timestamp.Format("2006-01-02"),
			tx.Timestamp.Format("15:04:05"),
			tx.Name,
			strconv.FormatFloat(tx.Amount, 'f', 2, 64),
			tx.Location,
			tx.Zip,
			strconv.FormatFloat(tx.Balance, 'f', 2, 64),
			strconv.Itoa(tx.Label()),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
