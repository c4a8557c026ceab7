package auth

import "context"

// TokenRefresher defines the contract for any component that can exchange a refresh token for a
// new token pair. newRefreshToken is empty when upstream does not rotate it and expiresIn is zero
// when the expiry is unknown.
type TokenRefresher interface {
	PerformTokenRefresh(ctx context.Context, refreshToken string) (accessToken string, newRefreshToken string, expiresIn int64, err error)
}

// TokenProvider is what API callers use to obtain a usable access token. Rate limiting and
// in-flight deduplication are hidden behind it.
type TokenProvider interface {
	GetValidAccessToken(ctx context.Context, opts TokenOptions) (string, error)
	// ForceRefresh refreshes although the stored expiry looks fine, because upstream rejected
	// rejectedToken. If another caller already replaced that token, the replacement is returned.
	ForceRefresh(ctx context.Context, rejectedToken string) (string, error)
}

// TokenOptions tunes GetValidAccessToken.
type TokenOptions struct {
	// ForceAutoRefresh allows a refresh even when auto-refresh is disabled in the settings.
	ForceAutoRefresh bool
}
