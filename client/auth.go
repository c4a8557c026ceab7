package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/habedi/cloudauth/pkg/autherr"
	"github.com/rs/zerolog/log"
)

// PerformTokenRefresh exchanges a refresh token for a new token pair with a single
// form-encoded POST. newRefreshToken is empty when upstream does not rotate the refresh token.
// expiresIn is zero when the expiry is unknown.
func (c *Client) PerformTokenRefresh(ctx context.Context, refreshToken string) (accessToken string, newRefreshToken string, expiresIn int64, err error) {
	form := url.Values{"refresh_token": {refreshToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	env, err := c.call(req, false)
	if err != nil {
		return "", "", 0, err
	}

	var data map[string]any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", "", 0, autherr.New(autherr.Upstream, "malformed token refresh response", err)
		}
	}
	accessToken, _ = data["access_token"].(string)
	if accessToken == "" {
		apiErr := env.apiError(http.StatusOK)
		if env.HasCode && env.Code != 0 {
			return "", "", 0, upstreamError(apiErr)
		}
		return "", "", 0, autherr.New(autherr.Upstream, "token refresh response did not contain an access token", apiErr)
	}
	newRefreshToken, _ = data["refresh_token"].(string)
	expiresIn, _ = toInt64(data["expires_in"])
	if expiresIn <= 0 {
		expiresIn = jwtExpiresIn(accessToken, time.Now())
	}

	log.Info().Int64("expires_in", expiresIn).Bool("rotated", newRefreshToken != "").Msg("Token refresh succeeded")
	return accessToken, newRefreshToken, expiresIn, nil
}

// jwtExpiresIn returns the seconds left before the exp claim of a JWT access token, or zero when
// the token is not a JWT, has no exp claim or is already expired. The signature is not verified:
// the value only schedules renewal.
func jwtExpiresIn(token string, now time.Time) int64 {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	secs := int64(exp.Sub(now) / time.Second)
	if secs <= 0 {
		return 0
	}
	return secs
}
