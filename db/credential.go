package db

import (
	"time"
)

const (
	// DefaultMinRefreshIntervalMinutes is also the hard floor enforced by the refresh limiter.
	DefaultMinRefreshIntervalMinutes = 30
	DefaultMaxRefreshesPerTwoHours   = 3
	DefaultAutoRefreshSkewSeconds    = 60

	historyRetentionSec = 24 * 60 * 60
	maxHistoryEntries   = 20

	credentialID = 1
)

// CacheKind names one of the cached derived payloads kept on the credential record.
type CacheKind string

const (
	CacheQuota    CacheKind = "quota"
	CacheUserInfo CacheKind = "user_info"
)

// CacheEntry is the last known good payload of an upstream read endpoint.
type CacheEntry struct {
	Data      map[string]any `json:"data"`
	UpdatedAt int64          `json:"updatedAt"` // unix millis
}

// UpdatedTime returns UpdatedAt as a time.Time.
func (e *CacheEntry) UpdatedTime() time.Time {
	return time.UnixMilli(e.UpdatedAt)
}

// Credential is the single persisted record of the token lifecycle: the token pair, the refresh
// bookkeeping used for rate limiting, the refresh policy and the cached derived data.
// There is exactly one row (ID 1). Version is bumped on every write and used for
// compare-and-swap.
type Credential struct {
	ID uint `gorm:"primaryKey" json:"-"`

	AccessToken       string `json:"accessToken"`
	RefreshToken      string `json:"refreshToken"`
	TokenExpiresAtSec int64  `json:"tokenExpiresAtSec"` // 0 means unknown

	LastTokenRefreshAtSec  int64   `json:"lastTokenRefreshAtSec"`
	TokenRefreshHistorySec []int64 `gorm:"serializer:json" json:"tokenRefreshHistorySec"`

	MinRefreshIntervalMinutes int  `json:"minRefreshIntervalMinutes"`
	MaxRefreshesPerTwoHours   int  `json:"maxRefreshesPerTwoHours"`
	AutoRefreshEnabled        bool `json:"autoRefreshEnabled"`
	AutoRefreshSkewSeconds    int  `json:"autoRefreshSkewSeconds"`

	CachedQuota    *CacheEntry `gorm:"serializer:json" json:"cachedQuota,omitempty"`
	CachedUserInfo *CacheEntry `gorm:"serializer:json" json:"cachedUserInfo,omitempty"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultCredential returns the record used before anything has been stored.
func DefaultCredential() *Credential {
	return &Credential{
		ID:                        credentialID,
		MinRefreshIntervalMinutes: DefaultMinRefreshIntervalMinutes,
		MaxRefreshesPerTwoHours:   DefaultMaxRefreshesPerTwoHours,
		AutoRefreshEnabled:        true,
		AutoRefreshSkewSeconds:    DefaultAutoRefreshSkewSeconds,
	}
}

// ExpiresAt returns the access token expiry, or the zero time when it is unknown.
func (c *Credential) ExpiresAt() time.Time {
	if c.TokenExpiresAtSec <= 0 {
		return time.Time{}
	}
	return time.Unix(c.TokenExpiresAtSec, 0)
}

// SetTokens overwrites the token pair wholesale. A zero expiresAt stores "unknown".
func (c *Credential) SetTokens(accessToken, refreshToken string, expiresAt time.Time) {
	c.AccessToken = accessToken
	c.RefreshToken = refreshToken
	c.TokenExpiresAtSec = 0
	if !expiresAt.IsZero() {
		c.TokenExpiresAtSec = expiresAt.Unix()
	}
}

// RecordRefresh applies a successful refresh: the new pair replaces the old one (keeping the old
// refresh token when upstream did not rotate it) and the refresh is appended to the history.
func (c *Credential) RecordRefresh(accessToken, refreshToken string, expiresAt, now time.Time) {
	if refreshToken == "" {
		refreshToken = c.RefreshToken
	}
	c.SetTokens(accessToken, refreshToken, expiresAt)

	nowSec := now.Unix()
	c.LastTokenRefreshAtSec = nowSec
	c.TokenRefreshHistorySec = TrimHistory(append(c.TokenRefreshHistorySec, nowSec), nowSec)
}

// TrimHistory drops refresh timestamps older than 24 hours and keeps at most the 20 most recent.
// The result is ordered oldest first.
func TrimHistory(history []int64, nowSec int64) []int64 {
	cutoff := nowSec - historyRetentionSec
	kept := make([]int64, 0, len(history))
	for _, ts := range history {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	if len(kept) > maxHistoryEntries {
		kept = kept[len(kept)-maxHistoryEntries:]
	}
	return kept
}

// Cache returns the cached entry of the given kind, or nil.
func (c *Credential) Cache(kind CacheKind) *CacheEntry {
	switch kind {
	case CacheQuota:
		return c.CachedQuota
	case CacheUserInfo:
		return c.CachedUserInfo
	}
	return nil
}

// SetCache replaces the cached entry of the given kind.
func (c *Credential) SetCache(kind CacheKind, entry *CacheEntry) {
	switch kind {
	case CacheQuota:
		c.CachedQuota = entry
	case CacheUserInfo:
		c.CachedUserInfo = entry
	}
}

// Normalize clamps the refresh policy to its floors: at least 30 minutes between refreshes, at
// least one refresh per two hours and a non-negative skew.
func (c *Credential) Normalize() {
	if c.MinRefreshIntervalMinutes < DefaultMinRefreshIntervalMinutes {
		c.MinRefreshIntervalMinutes = DefaultMinRefreshIntervalMinutes
	}
	if c.MaxRefreshesPerTwoHours < 1 {
		c.MaxRefreshesPerTwoHours = 1
	}
	if c.AutoRefreshSkewSeconds < 0 {
		c.AutoRefreshSkewSeconds = 0
	}
}
