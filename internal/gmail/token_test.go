package gmail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edwardrichtofen115/subscout/internal/config"
	"github.com/edwardrichtofen115/subscout/internal/models"
)

type fakeTokenStore struct {
	updates int
}

func (s *fakeTokenStore) UpdateAccountToken(id uint, accessToken string, expiry time.Time) error {
	s.updates++
	return nil
}

func newTestProvider(now time.Time) (*TokenProvider, *fakeTokenStore) {
	store := &fakeTokenStore{}
	provider := NewTokenProvider(&config.GoogleConfig{ClientID: "id", ClientSecret: "secret"}, store)
	provider.now = func() time.Time { return now }
	return provider, store
}

func TestValidTokenReturnsUnexpiredToken(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	provider, store := newTestProvider(now)

	account := &models.Account{
		ID:           1,
		Email:        "u@x.com",
		AccessToken:  "live-token",
		RefreshToken: "refresh",
		TokenExpiry:  now.Add(time.Hour),
	}

	token, err := provider.ValidToken(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, "live-token", token.AccessToken)
	assert.Equal(t, 0, store.updates)
}

func TestValidTokenTreatsNearExpiryAsStale(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	provider, _ := newTestProvider(now)

	// Expires inside the safety buffer and there is nothing to refresh with.
	account := &models.Account{
		ID:          1,
		Email:       "u@x.com",
		AccessToken: "nearly-dead",
		TokenExpiry: now.Add(2 * time.Minute),
	}

	_, err := provider.ValidToken(context.Background(), account)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestValidTokenWithoutRefreshToken(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	provider, _ := newTestProvider(now)

	account := &models.Account{
		ID:          1,
		Email:       "u@x.com",
		AccessToken: "expired",
		TokenExpiry: now.Add(-time.Hour),
	}

	_, err := provider.ValidToken(context.Background(), account)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestPrimaryFiltersCategories(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   bool
	}{
		{"inbox only", []string{"INBOX", "UNREAD"}, true},
		{"promotions", []string{"INBOX", "CATEGORY_PROMOTIONS"}, false},
		{"spam", []string{"SPAM"}, false},
		{"trash", []string{"INBOX", "TRASH"}, false},
		{"archived", []string{"UNREAD"}, false},
		{"no labels", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{ID: "m1", Labels: tt.labels}
			assert.Equal(t, tt.want, m.Primary())
		})
	}
}
