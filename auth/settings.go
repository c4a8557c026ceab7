package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/habedi/cloudauth/db"
	"github.com/habedi/cloudauth/pkg/autherr"
	"github.com/rs/zerolog/log"
)

// Status is a read-only view of the credential record for display. Tokens are masked.
type Status struct {
	AccessToken     string    `json:"accessToken"`
	RefreshToken    string    `json:"refreshToken"`
	ExpiresAt       time.Time `json:"expiresAt"`
	Fresh           bool      `json:"fresh"`
	LastRefreshAt   time.Time `json:"lastRefreshAt"`
	RefreshesIn2h   int       `json:"refreshesInWindow"`
	RefreshAllowed  bool      `json:"refreshAllowed"`
	RefreshDenied   string    `json:"refreshDeniedReason,omitempty"`
	RetryAfter      string    `json:"retryAfter,omitempty"`
	Settings        Settings  `json:"settings"`
	RecordVersion   int64     `json:"version"`
	RecordUpdatedAt time.Time `json:"updatedAt"`
}

// Settings is the persisted refresh policy as seen by users. Effective values are shown, so a
// stored interval below the floor appears as the floor.
type Settings struct {
	MinRefreshIntervalMinutes int  `json:"minRefreshIntervalMinutes"`
	MaxRefreshesPerTwoHours   int  `json:"maxRefreshesPerTwoHours"`
	AutoRefreshEnabled        bool `json:"autoRefreshEnabled"`
	AutoRefreshSkewSeconds    int  `json:"autoRefreshSkewSeconds"`
}

// SettingsUpdate changes the fields that are non-nil.
type SettingsUpdate struct {
	MinRefreshIntervalMinutes *int
	MaxRefreshesPerTwoHours   *int
	AutoRefreshEnabled        *bool
	AutoRefreshSkewSeconds    *int
}

// Status reports the current token and limiter state without touching the network.
func (c *Coordinator) Status(ctx context.Context) (*Status, error) {
	cred, err := c.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve credential record: %w", err)
	}
	now := c.now()
	limiter := limiterFor(cred)
	decision := limiter.Check(cred.LastTokenRefreshAtSec, cred.TokenRefreshHistorySec, now.Unix())

	st := &Status{
		AccessToken:     maskToken(cred.AccessToken),
		RefreshToken:    maskToken(cred.RefreshToken),
		ExpiresAt:       cred.ExpiresAt(),
		Fresh:           c.isFresh(cred, now),
		RefreshesIn2h:   limiter.CountInWindow(cred.TokenRefreshHistorySec, now.Unix()),
		RefreshAllowed:  decision.Allowed,
		RefreshDenied:   decision.Reason,
		Settings:        effectiveSettings(cred),
		RecordVersion:   cred.Version,
		RecordUpdatedAt: cred.UpdatedAt,
	}
	if cred.LastTokenRefreshAtSec > 0 {
		st.LastRefreshAt = time.Unix(cred.LastTokenRefreshAtSec, 0)
	}
	if !decision.Allowed {
		st.RetryAfter = autherr.HumanizeWait(decision.RetryAfter)
	}
	return st, nil
}

// SetTokens stores a manually entered token pair. The refresh history is left alone: entering a
// pair by hand does not reset the rate limiter.
func (c *Coordinator) SetTokens(ctx context.Context, accessToken, refreshToken string, expiresAt time.Time) error {
	if accessToken == "" && refreshToken == "" {
		return autherr.New(autherr.Config, "at least one of access token and refresh token is required", nil)
	}
	_, err := c.store.Update(ctx, func(cred *db.Credential) error {
		if refreshToken == "" {
			refreshToken = cred.RefreshToken
		}
		cred.SetTokens(accessToken, refreshToken, expiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	log.Info().Str("access_token", maskToken(accessToken)).Str("refresh_token", maskToken(refreshToken)).Msg("Token pair saved")
	return nil
}

// UpdateSettings validates and persists a change to the refresh policy and returns the
// effective settings. Intervals below the floor are raised to it.
func (c *Coordinator) UpdateSettings(ctx context.Context, upd SettingsUpdate) (Settings, error) {
	if upd.MinRefreshIntervalMinutes != nil && *upd.MinRefreshIntervalMinutes < 0 {
		return Settings{}, autherr.New(autherr.Config, "minimum refresh interval cannot be negative", nil)
	}
	if upd.MaxRefreshesPerTwoHours != nil && *upd.MaxRefreshesPerTwoHours < 1 {
		return Settings{}, autherr.New(autherr.Config, "at least one refresh per two hours must be allowed", nil)
	}
	if upd.AutoRefreshSkewSeconds != nil && *upd.AutoRefreshSkewSeconds < 0 {
		return Settings{}, autherr.New(autherr.Config, "auto-refresh skew cannot be negative", nil)
	}

	cred, err := c.store.Update(ctx, func(cred *db.Credential) error {
		if upd.MinRefreshIntervalMinutes != nil {
			cred.MinRefreshIntervalMinutes = *upd.MinRefreshIntervalMinutes
		}
		if upd.MaxRefreshesPerTwoHours != nil {
			cred.MaxRefreshesPerTwoHours = *upd.MaxRefreshesPerTwoHours
		}
		if upd.AutoRefreshEnabled != nil {
			cred.AutoRefreshEnabled = *upd.AutoRefreshEnabled
		}
		if upd.AutoRefreshSkewSeconds != nil {
			cred.AutoRefreshSkewSeconds = *upd.AutoRefreshSkewSeconds
		}
		if cred.MinRefreshIntervalMinutes < db.DefaultMinRefreshIntervalMinutes {
			log.Warn().Int("requested", cred.MinRefreshIntervalMinutes).Int("floor", db.DefaultMinRefreshIntervalMinutes).Msg("Minimum refresh interval raised to the floor")
		}
		cred.Normalize()
		return nil
	})
	if err != nil {
		return Settings{}, fmt.Errorf("failed to save settings: %w", err)
	}
	return effectiveSettings(cred), nil
}

func effectiveSettings(cred *db.Credential) Settings {
	limiter := limiterFor(cred)
	skew := cred.AutoRefreshSkewSeconds
	if skew < 0 {
		skew = 0
	}
	return Settings{
		MinRefreshIntervalMinutes: int(limiter.MinInterval() / time.Minute),
		MaxRefreshesPerTwoHours:   limiter.MaxPerWindow(),
		AutoRefreshEnabled:        cred.AutoRefreshEnabled,
		AutoRefreshSkewSeconds:    skew,
	}
}
