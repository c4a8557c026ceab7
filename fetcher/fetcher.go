package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/habedi/cloudauth/auth"
	"github.com/habedi/cloudauth/client"
	"github.com/habedi/cloudauth/db"
	"github.com/habedi/cloudauth/pkg/autherr"
	"github.com/habedi/cloudauth/pkg/pool"
	"github.com/rs/zerolog/log"
)

const (
	defaultWorkers  = 4
	defaultPageSize = 100
	maxSearchPages  = 50
)

// ReadAPI is the set of bearer-authenticated upstream reads the fetcher wraps.
type ReadAPI interface {
	FetchUserInfo(ctx context.Context, accessToken string) (map[string]any, error)
	FetchQuota(ctx context.Context, accessToken string) (map[string]any, error)
	Search(ctx context.Context, accessToken string, params client.SearchParams) (*client.SearchPage, error)
}

// Options tunes a quota or profile read.
type Options struct {
	// ForceRefresh goes to the network. Without it a cached value is returned when present.
	ForceRefresh bool
}

// Result is a quota or profile payload. Cached is true when Data came from the local cache
// rather than from upstream during this call.
type Result struct {
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Cached    bool           `json:"cached"`
}

// ProgressFunc is called after each search page with the number of pages fetched so far.
type ProgressFunc func(done, total int)

// Fetcher performs upstream reads with one refresh-and-retry on a rejected token and falls back
// to cached data when upstream cannot be reached.
type Fetcher struct {
	tokens  auth.TokenProvider
	api     ReadAPI
	store   db.CredentialRepository
	now     func() time.Time
	workers int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// WithWorkers sets how many search pages are fetched concurrently.
func WithWorkers(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.workers = n
		}
	}
}

// New creates a Fetcher.
func New(tokens auth.TokenProvider, api ReadAPI, store db.CredentialRepository, opts ...Option) *Fetcher {
	f := &Fetcher{
		tokens:  tokens,
		api:     api,
		store:   store,
		now:     time.Now,
		workers: defaultWorkers,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Quota returns the storage quota.
func (f *Fetcher) Quota(ctx context.Context, opts Options) (*Result, error) {
	return f.fetchAuto(ctx, db.CacheQuota, opts, f.api.FetchQuota)
}

// UserInfo returns the account profile.
func (f *Fetcher) UserInfo(ctx context.Context, opts Options) (*Result, error) {
	return f.fetchAuto(ctx, db.CacheUserInfo, opts, f.api.FetchUserInfo)
}

func (f *Fetcher) fetchAuto(ctx context.Context, kind db.CacheKind, opts Options, call func(context.Context, string) (map[string]any, error)) (*Result, error) {
	if !opts.ForceRefresh {
		cred, err := f.store.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s cache: %w", kind, err)
		}
		if entry := cred.Cache(kind); entry != nil {
			return &Result{Data: entry.Data, UpdatedAt: entry.UpdatedTime(), Cached: true}, nil
		}
		log.Debug().Str("kind", string(kind)).Msg("Cache is empty, fetching from upstream")
	}

	data, err := callWithRefresh(ctx, f.tokens, call)
	if err != nil {
		if res := f.fallback(ctx, kind); res != nil {
			log.Warn().Err(err).Str("kind", string(kind)).Time("updated_at", res.UpdatedAt).Msg("Upstream read failed, returning cached data")
			return res, nil
		}
		return nil, err
	}

	now := f.now()
	entry := &db.CacheEntry{Data: data, UpdatedAt: now.UnixMilli()}
	if _, werr := f.store.Update(ctx, func(c *db.Credential) error {
		c.SetCache(kind, entry)
		return nil
	}); werr != nil {
		log.Warn().Err(werr).Str("kind", string(kind)).Msg("Failed to update cache")
	}
	return &Result{Data: data, UpdatedAt: now}, nil
}

// fallback returns the best cached value for kind, or nil. A quota can be derived from a cached
// profile when no quota was ever cached.
func (f *Fetcher) fallback(ctx context.Context, kind db.CacheKind) *Result {
	cred, err := f.store.Get(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read cache for fallback")
		return nil
	}
	if entry := cred.Cache(kind); entry != nil {
		return &Result{Data: entry.Data, UpdatedAt: entry.UpdatedTime(), Cached: true}
	}
	if kind == db.CacheQuota && cred.CachedUserInfo != nil {
		if quota, ok := deriveQuota(cred.CachedUserInfo.Data); ok {
			return &Result{Data: quota, UpdatedAt: cred.CachedUserInfo.UpdatedTime(), Cached: true}
		}
	}
	return nil
}

// Search returns one page of results. Search results are not cached.
func (f *Fetcher) Search(ctx context.Context, params client.SearchParams) (*client.SearchPage, error) {
	if params.Limit <= 0 {
		params.Limit = defaultPageSize
	}
	return callWithRefresh(ctx, f.tokens, func(ctx context.Context, token string) (*client.SearchPage, error) {
		return f.api.Search(ctx, token, params)
	})
}

// SearchAll fetches every page of results for keyword. The first page tells how many results
// exist; the remaining pages are fetched concurrently. It returns the items in upstream order
// and the total reported by upstream.
func (f *Fetcher) SearchAll(ctx context.Context, keyword string, pageSize int, progress ProgressFunc) ([]map[string]any, int, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	first, err := f.Search(ctx, client.SearchParams{Keyword: keyword, Limit: pageSize})
	if err != nil {
		return nil, 0, err
	}

	pages := (first.Total + pageSize - 1) / pageSize
	if pages < 1 {
		pages = 1
	}
	if pages > maxSearchPages {
		log.Warn().Int("pages", pages).Int("max_pages", maxSearchPages).Msg("Search has too many pages, truncating")
		pages = maxSearchPages
	}
	var done atomic.Int32
	report := func() {
		if progress != nil {
			progress(int(done.Add(1)), pages)
		}
	}
	report()

	offsets := make([]int, 0, pages-1)
	for p := 1; p < pages; p++ {
		offsets = append(offsets, p*pageSize)
	}
	rest, errs := pool.Map(ctx, offsets, f.workers, func(ctx context.Context, offset int) (*client.SearchPage, error) {
		page, err := f.Search(ctx, client.SearchParams{Keyword: keyword, Offset: offset, Limit: pageSize})
		if err != nil {
			return nil, fmt.Errorf("page at offset %d: %w", offset, err)
		}
		report()
		return page, nil
	})

	items := append([]map[string]any{}, first.Items...)
	for _, page := range rest {
		if page != nil {
			items = append(items, page.Items...)
		}
	}
	if len(errs) > 0 {
		return items, first.Total, errors.Join(errs...)
	}
	if err := ctx.Err(); err != nil {
		return items, first.Total, autherr.New(autherr.Network, "search cancelled", err)
	}
	return items, first.Total, nil
}

// callWithRefresh obtains a token and runs call. If upstream says the token is invalid, the
// token is refreshed and call is retried exactly once. Getting the first token honors the
// auto-refresh setting; the refresh after a rejection does not.
func callWithRefresh[T any](ctx context.Context, tokens auth.TokenProvider, call func(context.Context, string) (T, error)) (T, error) {
	var zero T
	token, err := tokens.GetValidAccessToken(ctx, auth.TokenOptions{})
	if err != nil {
		return zero, err
	}
	res, err := call(ctx, token)
	if err == nil {
		return res, nil
	}
	if !client.IsTokenInvalid(err) {
		return zero, err
	}

	log.Info().Msg("Access token rejected by upstream, refreshing and retrying once")
	token, err = tokens.ForceRefresh(ctx, token)
	if err != nil {
		return zero, err
	}
	res, err = call(ctx, token)
	if err == nil {
		return res, nil
	}
	if client.IsTokenInvalid(err) {
		return zero, autherr.New(autherr.Upstream, "access token still rejected after refresh", err)
	}
	return zero, err
}
