package client

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"strconv"
	"strings"

	"github.com/habedi/cloudauth/pkg/autherr"
)

// Codes the upstream uses for an access token that is expired, revoked or tampered with.
var invalidTokenCodes = map[int64]struct{}{
	401:      {},
	40140123: {},
	40140124: {},
	40140125: {},
	40140126: {},
}

// Codes the token endpoint uses for a refresh token it will never accept again.
var rejectedRefreshCodes = map[int64]struct{}{
	40140116: {},
	40140119: {},
	40140120: {},
}

// codeRefreshTooFrequent is the token endpoint's own rate-limit answer.
const codeRefreshTooFrequent = 40140121

var tokenVocabulary = []string{
	"token", "credential", "login", "session", "authorization", "authentication", "bearer",
}

var invalidityVocabulary = []string{
	"expired", "expire", "invalid", "unauthorized", "unauthorised", "not authorized",
	"login failed", "not logged in", "revoked",
}

// IsTokenInvalid reports whether an upstream response or error says the access token is expired,
// invalid or unauthorized. It accepts API errors, envelopes, decoded JSON maps, raw JSON bodies,
// plain strings and arbitrary errors. It never panics and returns false for anything it cannot
// positively identify, including transport failures and timeouts.
func IsTokenInvalid(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case *APIError:
		return x != nil && x.tokenInvalid()
	case APIError:
		return x.tokenInvalid()
	case *Envelope:
		return x != nil && (codeIn(x.Code, x.HasCode, invalidTokenCodes) || mentionsInvalidToken(x.Message))
	case map[string]any:
		return classifyMap(x, 0)
	case json.RawMessage:
		return classifyBytes(x)
	case []byte:
		return classifyBytes(x)
	case string:
		return mentionsInvalidToken(x)
	case error:
		return classifyError(x)
	}
	return false
}

// IsRefreshTokenRejected reports whether a failed refresh means the stored refresh token is
// permanently unusable, so only new credentials can help.
func IsRefreshTokenRejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if codeIn(apiErr.Code, true, rejectedRefreshCodes) || apiErr.StatusCode == 401 {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "refresh") && mentionsInvalidToken(msg)
}

func (e *APIError) tokenInvalid() bool {
	return e.StatusCode == 401 || codeIn(e.Code, true, invalidTokenCodes) || mentionsInvalidToken(e.Message)
}

func classifyError(err error) bool {
	var typed *autherr.Error
	if errors.As(err, &typed) {
		switch typed.Type {
		case autherr.TokenInvalid:
			return true
		case autherr.Network, autherr.RateLimited, autherr.Config:
			return false
		}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.tokenInvalid()
	}
	if isTransportFailure(err) {
		return false
	}
	return mentionsInvalidToken(err.Error())
}

func isTransportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func classifyMap(fields map[string]any, depth int) bool {
	if code, ok := lookupCode(fields); ok && codeIn(code, true, invalidTokenCodes) {
		return true
	}
	for _, k := range messageKeys {
		if s, ok := fields[k].(string); ok && mentionsInvalidToken(s) {
			return true
		}
	}
	if depth == 0 {
		if nested, ok := fields["error"].(map[string]any); ok {
			return classifyMap(nested, depth+1)
		}
	}
	return false
}

func classifyBytes(body []byte) bool {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	return classifyMap(fields, 0)
}

func mentionsInvalidToken(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	return containsAny(lower, tokenVocabulary) && containsAny(lower, invalidityVocabulary)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func codeIn(code int64, present bool, set map[int64]struct{}) bool {
	if !present {
		return false
	}
	_, ok := set[code]
	return ok
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}
