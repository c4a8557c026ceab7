package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/habedi/cloudauth/auth"
	"github.com/habedi/cloudauth/client"
	"github.com/habedi/cloudauth/db"
	"github.com/habedi/cloudauth/pkg/autherr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) db.CredentialRepository {
	t.Helper()
	db.Path = filepath.Join(t.TempDir(), "credentials.db")
	require.NoError(t, db.InitDB())
	t.Cleanup(func() { _ = db.CloseDB() })
	return db.NewCredentialRepository(db.GetDB())
}

func TestRefreshToken_Integration_Success(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		require.Equal(t, "/token", r.URL.Path)
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "expired-refresh-token", r.FormValue("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"state": true,
			"data": map[string]interface{}{
				"access_token":  "new-shiny-access-token",
				"refresh_token": "new-shiny-refresh-token",
				"expires_in":    3600,
			},
		})
	}))
	defer server.Close()

	_, err := repo.Update(ctx, func(c *db.Credential) error {
		c.SetTokens("expired-access-token", "expired-refresh-token", time.Now().Add(-time.Hour))
		return nil
	})
	require.NoError(t, err)

	coord := auth.NewCoordinator(repo, client.NewClient(server.URL, server.URL+"/token", 5*time.Second))

	token, err := coord.GetValidAccessToken(ctx, auth.TokenOptions{})
	require.NoError(t, err)
	assert.Equal(t, "new-shiny-access-token", token)

	stored, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new-shiny-refresh-token", stored.RefreshToken)
	assert.Len(t, stored.TokenRefreshHistorySec, 1)
	assert.InDelta(t, time.Now().Add(time.Hour).Unix(), stored.TokenExpiresAtSec, 5)

	token, err = coord.GetValidAccessToken(ctx, auth.TokenOptions{})
	require.NoError(t, err)
	assert.Equal(t, "new-shiny-access-token", token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// A second refresh right away is stopped locally by the minimum interval.
	_, err = coord.Refresh(ctx, "")
	require.Error(t, err)
	assert.True(t, autherr.Is(err, autherr.RateLimited))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestRefreshToken_Integration_RejectedRefreshToken(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"state":false,"code":40140116,"message":"refresh token invalid"}`))
	}))
	defer server.Close()

	_, err := repo.Update(ctx, func(c *db.Credential) error {
		c.SetTokens("expired-access-token", "dead-refresh-token", time.Time{})
		return nil
	})
	require.NoError(t, err)

	coord := auth.NewCoordinator(repo, client.NewClient(server.URL, server.URL+"/token", 5*time.Second))
	_, err = coord.GetValidAccessToken(ctx, auth.TokenOptions{})
	require.Error(t, err)
	assert.True(t, autherr.Is(err, autherr.Config))

	stored, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dead-refresh-token", stored.RefreshToken)
	assert.Empty(t, stored.TokenRefreshHistorySec)
}
