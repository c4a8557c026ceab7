package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/habedi/cloudauth/client"
	"github.com/habedi/cloudauth/db"
	"github.com/habedi/cloudauth/pkg/autherr"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	refreshKey            = "token-refresh"
	defaultRefreshTimeout = 30 * time.Second
)

// TokenPair is the result of a refresh. ExpiresAt is zero when the expiry is unknown.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Coordinator owns the token lifecycle: it serves fresh tokens from the store, refreshes stale
// ones under the rate limiter and makes sure at most one refresh request is in flight.
// Construct one per process and share it.
type Coordinator struct {
	store          db.CredentialRepository
	refresher      TokenRefresher
	now            func() time.Time
	refreshTimeout time.Duration
	group          singleflight.Group
	flights        sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithRefreshTimeout bounds a single refresh request. It applies to the shared request, not to
// the callers waiting on it.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// NewCoordinator is the constructor for the token coordinator.
func NewCoordinator(store db.CredentialRepository, refresher TokenRefresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:          store,
		refresher:      refresher,
		now:            time.Now,
		refreshTimeout: defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ TokenProvider = (*Coordinator)(nil)

// GetValidAccessToken returns the stored access token while it is fresh and refreshes it
// otherwise. Rate-limit denials and missing credentials are returned as errors and never retried.
func (c *Coordinator) GetValidAccessToken(ctx context.Context, opts TokenOptions) (string, error) {
	cred, err := c.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve credential record: %w", err)
	}
	if c.isFresh(cred, c.now()) {
		return cred.AccessToken, nil
	}
	if !cred.AutoRefreshEnabled && !opts.ForceAutoRefresh {
		return "", autherr.New(autherr.Config, "access token expired and auto-refresh is off; enter a new token or enable auto-refresh", nil)
	}
	if cred.RefreshToken == "" {
		return "", autherr.New(autherr.Config, "missing refresh token; enter a token pair first", nil)
	}

	log.Info().Time("expires_at", cred.ExpiresAt()).Msg("Access token expired or expiry unknown, refreshing...")
	pair, err := c.refresh(ctx, refreshRequest{skipIfFresh: true})
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// ForceRefresh implements TokenProvider.
func (c *Coordinator) ForceRefresh(ctx context.Context, rejectedToken string) (string, error) {
	cred, err := c.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve credential record: %w", err)
	}
	if cred.RefreshToken == "" {
		return "", autherr.New(autherr.Config, "missing refresh token; enter a token pair first", nil)
	}
	log.Info().Str("rejected", maskToken(rejectedToken)).Msg("Upstream rejected the access token, refreshing...")
	pair, err := c.refresh(ctx, refreshRequest{skipIfFresh: true, rejected: rejectedToken})
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// Refresh exchanges refreshToken for a new pair, or the stored refresh token when it is empty.
// It always goes to the network unless it joins a refresh already in flight, and it is subject
// to the rate limiter like every other refresh.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	return c.refresh(ctx, refreshRequest{refreshToken: refreshToken})
}

type refreshRequest struct {
	refreshToken string
	skipIfFresh  bool
	rejected     string
}

// refresh runs doRefresh at most once at a time. Callers arriving while a refresh is in flight
// wait for it and get its result. A caller whose context ends stops waiting, but the shared
// refresh keeps running under its own timeout so a rotation is never cut in half.
func (c *Coordinator) refresh(ctx context.Context, req refreshRequest) (TokenPair, error) {
	c.flights.Add(1)
	ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		return c.doRefresh(rctx, req)
	})
	results := make(chan singleflight.Result, 1)
	go func() {
		defer c.flights.Done()
		results <- <-ch
	}()

	select {
	case <-ctx.Done():
		return TokenPair{}, autherr.New(autherr.Network, "stopped waiting for token refresh", ctx.Err())
	case res := <-results:
		if res.Shared {
			log.Debug().Msg("Joined token refresh already in flight")
		}
		if res.Err != nil {
			return TokenPair{}, res.Err
		}
		return res.Val.(TokenPair), nil
	}
}

func (c *Coordinator) doRefresh(ctx context.Context, req refreshRequest) (TokenPair, error) {
	logger := log.With().Str("attempt", uuid.NewString()).Logger()

	cred, err := c.store.Get(ctx)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to retrieve credential record: %w", err)
	}
	now := c.now()
	if req.skipIfFresh && c.alreadyReplaced(cred, req.rejected, now) {
		logger.Debug().Msg("Token already refreshed by another caller")
		return pairOf(cred), nil
	}

	refreshToken := req.refreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}
	if refreshToken == "" {
		return TokenPair{}, autherr.New(autherr.Config, "missing refresh token; enter a token pair first", nil)
	}

	decision := limiterFor(cred).Check(cred.LastTokenRefreshAtSec, cred.TokenRefreshHistorySec, now.Unix())
	if !decision.Allowed {
		logger.Warn().Str("reason", decision.Reason).Dur("retry_after", decision.RetryAfter).Msg("Token refresh denied by rate limiter")
		return TokenPair{}, decision.Err()
	}

	logger.Info().Str("refresh_token", maskToken(refreshToken)).Msg("Requesting new token pair")
	access, newRefresh, expiresIn, err := c.refresher.PerformTokenRefresh(ctx, refreshToken)
	if err != nil {
		logger.Error().Err(err).Msg("Token refresh failed")
		return TokenPair{}, refreshFailure(err)
	}
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	refreshedAt := c.now()
	var expiresAt time.Time
	if expiresIn > 0 {
		expiresAt = refreshedAt.Add(time.Duration(expiresIn) * time.Second)
	}
	updated, err := c.store.Update(ctx, func(cur *db.Credential) error {
		cur.RecordRefresh(access, newRefresh, expiresAt, refreshedAt)
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to save refreshed token")
		return TokenPair{}, fmt.Errorf("failed to save refreshed token: %w", err)
	}

	logger.Info().Time("expires_at", updated.ExpiresAt()).Bool("rotated", newRefresh != refreshToken).Msg("Token refreshed and saved successfully.")
	return pairOf(updated), nil
}

// Wait blocks until every refresh started through this coordinator has finished, or ctx ends.
// Call it before closing the store so an interrupted command still saves a rotated pair.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.flights.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// alreadyReplaced reports whether the stored token can be served instead of refreshing. A token
// that differs from the rejected one was stored by a refresh that finished after the rejection,
// so it is used unless it is known to be expired.
func (c *Coordinator) alreadyReplaced(cred *db.Credential, rejected string, now time.Time) bool {
	if cred.AccessToken == "" {
		return false
	}
	if rejected != "" && cred.AccessToken != rejected && cred.TokenExpiresAtSec <= 0 {
		return true
	}
	return c.isFresh(cred, now) && cred.AccessToken != rejected
}

func refreshFailure(err error) error {
	switch {
	case client.IsRefreshTokenRejected(err):
		return autherr.New(autherr.Config, "refresh token was rejected; enter a new token pair", err)
	case autherr.TypeOf(err) != "":
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return autherr.New(autherr.Network, "token refresh timed out", err)
	default:
		return autherr.New(autherr.Upstream, "token refresh failed", err)
	}
}

func (c *Coordinator) isFresh(cred *db.Credential, now time.Time) bool {
	if cred.AccessToken == "" || cred.TokenExpiresAtSec <= 0 {
		return false
	}
	skew := int64(cred.AutoRefreshSkewSeconds)
	if skew < 0 {
		skew = 0
	}
	return cred.TokenExpiresAtSec-skew > now.Unix()
}

func pairOf(cred *db.Credential) TokenPair {
	return TokenPair{AccessToken: cred.AccessToken, RefreshToken: cred.RefreshToken, ExpiresAt: cred.ExpiresAt()}
}

// maskToken keeps just enough of a token to tell two apart in logs.
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
