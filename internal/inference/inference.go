// Package inference defines the scoring endpoint contract and its HTTP client.
package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnavailable marks timeouts, connection failures and overload. The
	// call may succeed if repeated later.
	ErrUnavailable = errors.New("inference endpoint unavailable")
	// ErrInvalidResponse marks a reply that does not match the contract.
	ErrInvalidResponse = errors.New("inference endpoint returned an invalid response")
	// ErrRejected marks an input the endpoint refused to score.
	ErrRejected = errors.New("inference endpoint rejected the input")
)

// Result contains the outcome returned by the scoring endpoint.
type Result struct {
	ProbabilityReal float64
}

// Client exposes the scoring call used by the compute worker.
type Client interface {
	Predict(ctx context.Context, image []byte) (*Result, error)
}

// Retryable reports whether err should leave the job pending for redelivery.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// ValidateProbability applies the [0,1] range of the contract.
func ValidateProbability(p float64) (*Result, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: probability_real %v outside [0,1]", ErrInvalidResponse, p)
	}
	return &Result{ProbabilityReal: p}, nil
}
