package domain

import "errors"

// Sentinel errors shared by the training and scoring pipelines.
var (
	// ErrMalformedHistory is returned when a history record is missing
	// required fields or cannot be parsed.
	ErrMalformedHistory = errors.New("malformed transaction history")

	// ErrInsufficientData is returned when the history cannot produce a
	// trainable dataset (a class is missing or too rare to rebalance).
	ErrInsufficientData = errors.New("insufficient training data")

	// ErrModelNotTrained is returned when scoring is requested before any
	// artifacts exist.
	ErrModelNotTrained = errors.New("model not trained")

	// ErrSchemaMismatch is returned when the model and profile were not
	// produced by the same training run.
	ErrSchemaMismatch = errors.New("model schema does not match profile schema")

	// ErrOracleUnavailable marks a failed oracle call. It is never surfaced
	// to callers of a Verifier.
	ErrOracleUnavailable = errors.New("legitimacy oracle unavailable")

	// ErrMalformedInput is returned for invalid scoring input.
	ErrMalformedInput = errors.New("malformed input")

	// ErrTrainingInProgress is returned when a training run is already active.
	ErrTrainingInProgress = errors.New("training already in progress")
)

// ErrorKind groups errors by the recovery a caller should attempt.
type ErrorKind string

const (
	KindRetrainRequired   ErrorKind = "retrain_required"
	KindMalformedInput    ErrorKind = "malformed_input"
	KindInvariantViolated ErrorKind = "invariant_violated"
	KindConflict          ErrorKind = "conflict"
	KindInternal          ErrorKind = "internal"
)

// Classify maps an error to its ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrModelNotTrained):
		return KindRetrainRequired
	case errors.Is(err, ErrMalformedHistory),
		errors.Is(err, ErrMalformedInput),
		errors.Is(err, ErrInsufficientData):
		return KindMalformedInput
	case errors.Is(err, ErrSchemaMismatch):
		return KindInvariantViolated
	case errors.Is(err, ErrTrainingInProgress):
		return KindConflict
	default:
		return KindInternal
	}
}
