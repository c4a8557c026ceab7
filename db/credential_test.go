package db_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/habedi/cloudauth/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) db.CredentialRepository {
	t.Helper()
	db.Path = filepath.Join(t.TempDir(), "credentials.db")
	require.NoError(t, db.InitDB())
	t.Cleanup(func() { _ = db.CloseDB() })
	return db.NewCredentialRepository(db.GetDB())
}

func TestCredentialRepository_GetReturnsDefaultsWhenEmpty(t *testing.T) {
	repo := setupRepo(t)

	cred, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cred.AccessToken)
	assert.Equal(t, int64(0), cred.Version)
	assert.True(t, cred.AutoRefreshEnabled)
	assert.Equal(t, db.DefaultMinRefreshIntervalMinutes, cred.MinRefreshIntervalMinutes)
	assert.Equal(t, db.DefaultMaxRefreshesPerTwoHours, cred.MaxRefreshesPerTwoHours)
	assert.Equal(t, db.DefaultAutoRefreshSkewSeconds, cred.AutoRefreshSkewSeconds)
	assert.True(t, cred.ExpiresAt().IsZero())
}

func TestCredentialRepository_UpdatePersistsWholeRecord(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	_, err := repo.Update(ctx, func(c *db.Credential) error {
		c.SetTokens("access-1", "refresh-1", now.Add(time.Hour))
		c.SetCache(db.CacheQuota, &db.CacheEntry{Data: map[string]any{"total": float64(100)}, UpdatedAt: now.UnixMilli()})
		return nil
	})
	require.NoError(t, err)

	updated, err := repo.Update(ctx, func(c *db.Credential) error {
		c.RecordRefresh("access-2", "", now.Add(2*time.Hour), now)
		c.AutoRefreshEnabled = false
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	stored, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", stored.AccessToken)
	assert.Equal(t, "refresh-1", stored.RefreshToken, "refresh token is kept when upstream does not rotate it")
	assert.Equal(t, now.Add(2*time.Hour).Unix(), stored.TokenExpiresAtSec)
	assert.Equal(t, now.Unix(), stored.LastTokenRefreshAtSec)
	assert.Equal(t, []int64{now.Unix()}, stored.TokenRefreshHistorySec)
	assert.False(t, stored.AutoRefreshEnabled)
	require.NotNil(t, stored.CachedQuota)
	assert.Equal(t, float64(100), stored.CachedQuota.Data["total"])
	assert.Nil(t, stored.CachedUserInfo)
	assert.Equal(t, int64(2), stored.Version)
}

func TestCredentialRepository_MutateErrorLeavesRecordUntouched(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	_, err := repo.Update(ctx, func(c *db.Credential) error {
		c.SetTokens("access", "refresh", time.Time{})
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = repo.Update(ctx, func(c *db.Credential) error {
		c.AccessToken = "should-not-persist"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access", stored.AccessToken)
	assert.Equal(t, int64(1), stored.Version)
}

func TestCredentialRepository_ConflictingWriteIsRetried(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	_, err := repo.Update(ctx, func(c *db.Credential) error {
		c.SetTokens("access", "refresh", time.Time{})
		return nil
	})
	require.NoError(t, err)

	calls := 0
	updated, err := repo.Update(ctx, func(c *db.Credential) error {
		calls++
		if calls == 1 {
			// Another writer sneaks in between our read and our write.
			_, err := repo.Update(ctx, func(other *db.Credential) error {
				other.MaxRefreshesPerTwoHours = 7
				return nil
			})
			require.NoError(t, err)
		}
		c.AccessToken = "access-after-conflict"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "access-after-conflict", updated.AccessToken)
	assert.Equal(t, 7, updated.MaxRefreshesPerTwoHours, "the concurrent write must not be lost")
	assert.Equal(t, int64(3), updated.Version)
}

func TestCredentialRepository_NotInitialized(t *testing.T) {
	repo := db.NewCredentialRepository(nil)
	_, err := repo.Get(context.Background())
	assert.Error(t, err)
}

func TestTrimHistory(t *testing.T) {
	now := int64(1_700_000_000)

	t.Run("drops entries older than a day", func(t *testing.T) {
		got := db.TrimHistory([]int64{now - 90_000, now - 86_400, now - 10}, now)
		assert.Equal(t, []int64{now - 86_400, now - 10}, got)
	})

	t.Run("keeps at most twenty most recent", func(t *testing.T) {
		var history []int64
		for i := 30; i > 0; i-- {
			history = append(history, now-int64(i*60))
		}
		got := db.TrimHistory(history, now)
		require.Len(t, got, 20)
		assert.Equal(t, now-20*60, got[0])
		assert.Equal(t, now-60, got[19])
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, db.TrimHistory(nil, now))
	})
}

func TestCredential_CacheAccessors(t *testing.T) {
	cred := db.DefaultCredential()
	entry := &db.CacheEntry{Data: map[string]any{"user_name": "alice"}, UpdatedAt: 1_700_000_000_000}

	cred.SetCache(db.CacheUserInfo, entry)
	assert.Same(t, entry, cred.Cache(db.CacheUserInfo))
	assert.Nil(t, cred.Cache(db.CacheQuota))
	assert.Nil(t, cred.Cache(db.CacheKind("unknown")))
	assert.Equal(t, int64(1_700_000_000), entry.UpdatedTime().Unix())
}
