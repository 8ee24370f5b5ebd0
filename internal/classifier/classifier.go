package classifier

import (
	"context"
	"time"
)

// Input is the message material submitted for classification.
type Input struct {
	Subject  string
	From     string
	Body     string
	Received time.Time
}

// Classification is the structured output describing whether a message
// represents a subscription or trial signal.
type Classification struct {
	IsSubscription bool    `json:"is_subscription"`
	Confidence     float64 `json:"confidence"`
	ServiceName    string  `json:"service_name"`
	Kind           string  `json:"kind"`
	DurationDays   int     `json:"duration_days"`
	EndDate        string  `json:"end_date"` // YYYY-MM-DD, empty if unknown
	Reasoning      string  `json:"reasoning"`
}

// Classifier analyzes a message for subscription signals. Implementations
// degrade gracefully: on any call or parse failure they return a negative
// classification with a diagnostic reasoning string alongside the error,
// so callers can count the failure without special-casing it.
type Classifier interface {
	Classify(ctx context.Context, input Input) (Classification, error)
}

// Negative returns the degraded classification used when a call fails.
func Negative(reason string) Classification {
	return Classification{
		IsSubscription: false,
		Confidence:     0,
		Reasoning:      reason,
	}
}
