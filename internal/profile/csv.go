package profile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ReadCSV parses transaction history. The header must name either a
// DateTime column or Date and Time columns, plus Location and Fraud. Name,
// Amount, Zip and Balance are read when present.
func ReadCSV(r io.Reader) ([]domain.Transaction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", domain.ErrMalformedHistory, err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	_, hasDateTime := idx["datetime"]
	_, hasDate := idx["date"]
	_, hasTime := idx["time"]
	if !hasDateTime && !(hasDate && hasTime) {
		return nil, fmt.Errorf("%w: header needs DateTime or Date and Time", domain.ErrMalformedHistory)
	}
	for _, col := range []string{"amount", "location", "fraud"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: header is missing %s", domain.ErrMalformedHistory, col)
		}
	}

	field := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var txs []domain.Transaction
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrMalformedHistory, line, err)
		}

		stamp := field(rec, "datetime")
		if stamp == "" {
			stamp = field(rec, "date") + " " + field(rec, "time")
		}
		ts, err := domain.ParseTimestamp(stamp)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrMalformedHistory, line, err)
		}

		amount, err := strconv.ParseFloat(field(rec, "amount"), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: invalid amount", domain.ErrMalformedHistory, line)
		}

		var balance float64
		if s := field(rec, "balance"); s != "" {
			if balance, err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("%w: line %d: invalid balance", domain.ErrMalformedHistory, line)
			}
		}

		fraud, err := parseLabel(field(rec, "fraud"))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrMalformedHistory, line, err)
		}

		id := field(rec, "id")
		if id == "" {
			id = uuid.New().String()
		}

		txs = append(txs, domain.Transaction{
			ID:        id,
			Timestamp: ts,
			Name:      field(rec, "name"),
			Amount:    amount,
			Location:  field(rec, "location"),
			Zip:       field(rec, "zip"),
			Balance:   balance,
			Fraud:     fraud,
		})
	}

	return txs, nil
}

func parseLabel(s string) (*bool, error) {
	var v bool
	switch strings.ToLower(s) {
	case "1", "true", "yes":
		v = true
	case "0", "false", "no":
		v = false
	case "":
		return nil, errors.New("missing fraud label")
	default:
		return nil, fmt.Errorf("invalid fraud label %q", s)
	}
	return &v, nil
}
