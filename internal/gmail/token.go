package gmail

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/edwardrichtofen115/subscout/internal/config"
	"github.com/edwardrichtofen115/subscout/internal/models"
)

// ErrNoToken signals that an account has no usable credential. Callers skip
// the account for the current run; it is never a batch-fatal condition.
var ErrNoToken = errors.New("no usable token for account")

// refreshSafetyBuffer is how long before expiry a token is considered stale.
const refreshSafetyBuffer = 5 * time.Minute

// TokenStore persists refreshed credentials.
type TokenStore interface {
	UpdateAccountToken(id uint, accessToken string, expiry time.Time) error
}

// TokenProvider supplies a currently valid access token for an account,
// refreshing and persisting it when expired.
type TokenProvider struct {
	cfg   *config.GoogleConfig
	store TokenStore
	now   func() time.Time
}

func NewTokenProvider(cfg *config.GoogleConfig, store TokenStore) *TokenProvider {
	return &TokenProvider{cfg: cfg, store: store, now: time.Now}
}

// ValidToken returns a token usable against the Gmail and Calendar APIs.
// A stale token is left in place when a refresh fails, so a transient
// refresh outage does not destroy existing state.
func (p *TokenProvider) ValidToken(ctx context.Context, account *models.Account) (*oauth2.Token, error) {
	if account.AccessToken != "" && account.TokenExpiry.After(p.now().Add(refreshSafetyBuffer)) {
		return &oauth2.Token{
			AccessToken:  account.AccessToken,
			RefreshToken: account.RefreshToken,
			Expiry:       account.TokenExpiry,
		}, nil
	}

	if account.RefreshToken == "" {
		return nil, ErrNoToken
	}

	oauthConfig := p.oauthConfig()
	source := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})

	token, err := source.Token()
	if err != nil {
		logrus.Warnf("Token refresh failed for account %s: %v", account.Email, err)
		return nil, ErrNoToken
	}

	if err := p.store.UpdateAccountToken(account.ID, token.AccessToken, token.Expiry); err != nil {
		// The token is still usable for this run even if persistence failed.
		logrus.Errorf("Failed to persist refreshed token for account %s: %v", account.Email, err)
	}

	account.AccessToken = token.AccessToken
	account.TokenExpiry = token.Expiry
	return token, nil
}

func (p *TokenProvider) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope, calendar.CalendarEventsScope},
		Endpoint:     google.Endpoint,
	}
}
