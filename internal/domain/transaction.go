package domain

import (
	"fmt"
	"strings"
	"time"
)

// Transaction is a single observed payment. It is immutable once observed.
type Transaction struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Payee name as it appeared on the statement.
	Name string `json:"name"`

	// Amount is signed; scoring uses its magnitude.
	Amount   float64 `json:"amount"`
	Location string  `json:"location"`

	// Counterpart identifiers
	Zip       string `json:"zip,omitempty"`
	SenderID  string `json:"senderId,omitempty"`
	CompanyID string `json:"companyId,omitempty"`

	// Balance after the transaction.
	Balance float64 `json:"balance"`

	// Fraud is the ground-truth label. Required in training history only.
	Fraud *bool `json:"fraud,omitempty"`
}

// Label returns the fraud label as 0 or 1. An unset label reads as 0.
func (t *Transaction) Label() int {
	if t.Fraud != nil && *t.Fraud {
		return 1
	}
	return 0
}

// UserContext carries the demographic inputs to the risk adjustment.
type UserContext struct {
	CreditScore int `json:"creditScore"`
	Age         int `json:"age"`
}

// Validate reports whether both fields are present.
func (u UserContext) Validate() error {
	if u.CreditScore <= 0 {
		return fmt.Errorf("%w: credit score is required", ErrMalformedInput)
	}
	if u.Age <= 0 {
		return fmt.Errorf("%w: age is required", ErrMalformedInput)
	}
	return nil
}

// ScoreRequest is the API payload for scoring one transaction.
type ScoreRequest struct {
	ID          string  `json:"id,omitempty"`
	DateTime    string  `json:"dateTime"`
	Name        string  `json:"name"`
	Amount      float64 `json:"amount"`
	Location    string  `json:"location"`
	Zip         string  `json:"zip,omitempty"`
	SenderID    string  `json:"senderId,omitempty"`
	CompanyID   string  `json:"companyId,omitempty"`
	Balance     float64 `json:"balance"`
	CreditScore int     `json:"creditScore"`
	Age         int     `json:"age"`
}

// Timestamp layouts accepted for request and CSV date-times.
var TimestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
}

// ParseTimestamp parses s with the first matching layout.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range TimestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ToTransaction converts the request into a Transaction and UserContext.
func (r *ScoreRequest) ToTransaction() (*Transaction, UserContext, error) {
	if r.DateTime == "" {
		return nil, UserContext{}, fmt.Errorf("%w: dateTime is required", ErrMalformedInput)
	}
	ts, err := ParseTimestamp(r.DateTime)
	if err != nil {
		return nil, UserContext{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if strings.TrimSpace(r.Location) == "" {
		return nil, UserContext{}, fmt.Errorf("%w: location is required", ErrMalformedInput)
	}

	tx := &Transaction{
		ID:        r.ID,
		Timestamp: ts,
		Name:      r.Name,
		Amount:    r.Amount,
		Location:  r.Location,
		Zip:       r.Zip,
		SenderID:  r.SenderID,
		CompanyID: r.CompanyID,
		Balance:   r.Balance,
	}
	user := UserContext{CreditScore: r.CreditScore, Age: r.Age}
	return tx, user, nil
}
