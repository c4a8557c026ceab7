package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/habedi/cloudauth/pkg/autherr"
	"github.com/rs/zerolog/log"
)

const (
	userInfoPath = "/open/user/info"
	quotaPath    = "/open/user/quota"
	searchPath   = "/open/ufile/search"

	defaultTimeout = 30 * time.Second
)

// Client talks to the cloud-storage API: the token endpoint and the bearer-authenticated read
// endpoints. It implements auth.TokenRefresher and fetcher.ReadAPI.
type Client struct {
	BaseURL  string
	TokenURL string

	HTTPClient *http.Client
	// MaxRetries is the number of attempts for idempotent requests; values below 1 mean 1.
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewClient returns a Client whose requests are bounded by timeout.
func NewClient(baseURL, tokenURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
		TokenURL:     tokenURL,
		HTTPClient:   &http.Client{Timeout: timeout},
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}
}

// FetchUserInfo returns the account profile payload.
func (c *Client) FetchUserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	return c.fetchObject(ctx, accessToken, c.BaseURL+userInfoPath)
}

// FetchQuota returns the storage quota payload.
func (c *Client) FetchQuota(ctx context.Context, accessToken string) (map[string]any, error) {
	return c.fetchObject(ctx, accessToken, c.BaseURL+quotaPath)
}

// Search returns one page of search results.
func (c *Client) Search(ctx context.Context, accessToken string, params SearchParams) (*SearchPage, error) {
	query := url.Values{}
	query.Set("search_value", params.Keyword)
	query.Set("offset", strconv.Itoa(params.Offset))
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Type != "" {
		query.Set("type", params.Type)
	}

	req, err := createRequest(ctx, http.MethodGet, c.BaseURL+searchPath+"?"+query.Encode(), accessToken)
	if err != nil {
		return nil, err
	}
	env, err := c.call(req, true)
	if err != nil {
		return nil, err
	}

	page := &SearchPage{Offset: params.Offset, Limit: params.Limit}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &page.Items); err != nil {
			return nil, autherr.New(autherr.Upstream, "malformed search results", err)
		}
	}
	if total, ok := toInt64(env.Raw["count"]); ok {
		page.Total = int(total)
	} else {
		page.Total = params.Offset + len(page.Items)
	}
	log.Debug().Str("keyword", params.Keyword).Int("offset", params.Offset).Int("items", len(page.Items)).Int("total", page.Total).Msg("Fetched search page")
	return page, nil
}

func (c *Client) fetchObject(ctx context.Context, accessToken, urlStr string) (map[string]any, error) {
	req, err := createRequest(ctx, http.MethodGet, urlStr, accessToken)
	if err != nil {
		return nil, err
	}
	env, err := c.call(req, true)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil || data == nil {
		return nil, autherr.New(autherr.Upstream, fmt.Sprintf("malformed payload from %s", req.URL.Path), err)
	}
	return data, nil
}

// call sends req and unwraps the response envelope. Non-2xx statuses and envelopes reporting an
// error become typed errors wrapping an *APIError.
func (c *Client) call(req *http.Request, idempotent bool) (*Envelope, error) {
	resp, err := c.sendRequest(req, idempotent)
	if err != nil {
		return nil, err
	}
	defer closeResponseBody(resp)

	body, err := readResponseBody(resp)
	if err != nil {
		return nil, autherr.New(autherr.Network, fmt.Sprintf("failed to read response from %s", req.URL.Path), err)
	}

	env, decodeErr := decodeEnvelope(body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if decodeErr == nil {
			apiErr.Code = env.Code
			if env.Message != "" {
				apiErr.Message = env.Message
			}
		}
		log.Error().Str("method", req.Method).Str("path", req.URL.Path).Int("status", resp.StatusCode).Int64("code", apiErr.Code).Msg("HTTP request failed with non-successful status")
		return nil, upstreamError(apiErr)
	}
	if decodeErr != nil {
		return nil, autherr.New(autherr.Upstream, fmt.Sprintf("malformed response envelope from %s", req.URL.Path), decodeErr)
	}
	// Without a state flag an error is only recognized by the classifier.
	if !env.OK() || (env.State == nil && IsTokenInvalid(env)) {
		apiErr := env.apiError(resp.StatusCode)
		log.Warn().Str("path", req.URL.Path).Int64("code", env.Code).Str("message", env.Message).Msg("Upstream reported an error")
		return nil, upstreamError(apiErr)
	}
	return env, nil
}

func upstreamError(apiErr *APIError) error {
	switch {
	case apiErr.Code == codeRefreshTooFrequent:
		return &autherr.Error{Type: autherr.RateLimited, Message: "upstream refused the refresh as too frequent", Err: apiErr}
	case apiErr.tokenInvalid():
		return autherr.New(autherr.TokenInvalid, "access token rejected by upstream", apiErr)
	default:
		return autherr.New(autherr.Upstream, "upstream request failed", apiErr)
	}
}

func createRequest(ctx context.Context, method, urlStr, accessToken string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create request")
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", accessToken))
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// sendRequest performs req. Idempotent requests are retried on transport errors and 5xx
// responses with exponential backoff; everything else gets exactly one attempt.
func (c *Client) sendRequest(req *http.Request, idempotent bool) (*http.Response, error) {
	attempts := 1
	if idempotent && c.MaxRetries > 1 {
		attempts = c.MaxRetries
	}
	backoff := c.RetryBackoff

	var resp *http.Response
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-req.Context().Done():
				return nil, autherr.New(autherr.Network, fmt.Sprintf("%s %s cancelled", req.Method, req.URL.Path), req.Context().Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		resp, err = c.httpClient().Do(req)
		if err != nil {
			log.Warn().Err(err).Int("attempt", i+1).Int("max_attempts", attempts).Msg("Request failed")
			continue
		}
		if resp.StatusCode >= 500 && i < attempts-1 {
			log.Warn().Int("status", resp.StatusCode).Int("attempt", i+1).Int("max_attempts", attempts).Msg("Server error, retrying...")
			closeResponseBody(resp)
			continue
		}
		break
	}

	if err != nil {
		return nil, autherr.New(autherr.Network, fmt.Sprintf("%s %s failed", req.Method, req.URL.Path), err)
	}
	return resp, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func readResponseBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read response body")
		return nil, err
	}
	return body, nil
}

func closeResponseBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, resp.Body, 1024*1024)
	_ = resp.Body.Close()
}
