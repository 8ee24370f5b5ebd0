package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	date := func(offset time.Duration) *time.Time {
		d := now.Add(offset)
		return &d
	}

	tests := []struct {
		name string
		sub  Subscription
		want string
	}{
		{"no end date", Subscription{}, StatusActive},
		{"far future", Subscription{EndDate: date(30 * 24 * time.Hour)}, StatusActive},
		{"inside window", Subscription{EndDate: date(3 * 24 * time.Hour)}, StatusExpiringSoon},
		{"window boundary", Subscription{EndDate: date(7 * 24 * time.Hour)}, StatusExpiringSoon},
		{"past", Subscription{EndDate: date(-24 * time.Hour)}, StatusExpired},
		{"cancelled is sticky", Subscription{Status: StatusCancelled, EndDate: date(-24 * time.Hour)}, StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.DeriveStatus(now))
		})
	}
}
