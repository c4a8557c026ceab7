package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/habedi/cloudauth/pkg/autherr"
	"github.com/stretchr/testify/assert"
)

func TestIsTokenInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  bool
	}{
		{"nil", nil, false},
		{"http 401", &APIError{StatusCode: 401}, true},
		{"known code", &APIError{StatusCode: 200, Code: 40140125}, true},
		{"code 401 in envelope", map[string]any{"state": false, "code": float64(401)}, true},
		{"alternative code key", map[string]any{"errno": float64(40140123)}, true},
		{"expired message", map[string]any{"message": "Access token expired"}, true},
		{"msg key", map[string]any{"msg": "invalid token"}, true},
		{"nested error object", map[string]any{"error": map[string]any{"message": "token has been revoked"}}, true},
		{"unrelated failure", map[string]any{"state": false, "code": float64(990001), "message": "file not found"}, false},
		{"not authorized without token word", map[string]any{"message": "not authorized to delete this folder"}, false},
		{"raw json", json.RawMessage(`{"code":40140126,"message":"x"}`), true},
		{"bytes not json", []byte("<html>oops</html>"), false},
		{"plain string", "Login session expired", true},
		{"empty map", map[string]any{}, false},
		{"unknown type", 42, false},
		{"string code", map[string]any{"code": "40140124"}, true},
		{"fractional code", map[string]any{"code": 401.5}, false},
		{"typed token invalid", autherr.New(autherr.TokenInvalid, "rejected", nil), true},
		{"network error mentioning token", autherr.New(autherr.Network, "token fetch failed: invalid", errors.New("x")), false},
		{"timeout", fmt.Errorf("calling: %w", context.DeadlineExceeded), false},
		{"wrapped api error", fmt.Errorf("outer: %w", &APIError{StatusCode: 401}), true},
		{"plain error text", errors.New("the access token is invalid"), true},
		{"upstream 500", autherr.New(autherr.Upstream, "upstream request failed", &APIError{StatusCode: 500, Message: "internal"}), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTokenInvalid(tc.input))
		})
	}
}

func TestIsTokenInvalid_NilPointers(t *testing.T) {
	var apiErr *APIError
	var env *Envelope
	assert.False(t, IsTokenInvalid(apiErr))
	assert.False(t, IsTokenInvalid(env))
}

func TestIsRefreshTokenRejected(t *testing.T) {
	assert.True(t, IsRefreshTokenRejected(&APIError{StatusCode: 200, Code: 40140119}))
	assert.True(t, IsRefreshTokenRejected(autherr.New(autherr.Upstream, "x", &APIError{StatusCode: 200, Code: 40140116})))
	assert.True(t, IsRefreshTokenRejected(&APIError{StatusCode: 401}))
	assert.True(t, IsRefreshTokenRejected(&APIError{StatusCode: 200, Code: 1, Message: "refresh_token expired"}))
	assert.False(t, IsRefreshTokenRejected(&APIError{StatusCode: 200, Code: codeRefreshTooFrequent, Message: "refresh too frequently"}))
	assert.False(t, IsRefreshTokenRejected(&APIError{StatusCode: 500}))
	assert.False(t, IsRefreshTokenRejected(errors.New("refresh token invalid")))
	assert.False(t, IsRefreshTokenRejected(nil))
}

func TestToInt64(t *testing.T) {
	n, ok := toInt64(float64(7200))
	assert.True(t, ok)
	assert.Equal(t, int64(7200), n)

	n, ok = toInt64(" 15 ")
	assert.True(t, ok)
	assert.Equal(t, int64(15), n)

	_, ok = toInt64("soon")
	assert.False(t, ok)

	_, ok = toInt64(nil)
	assert.False(t, ok)

	n, ok = toInt64(json.Number("42"))
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)
}

func TestEnvelopeOK(t *testing.T) {
	tests := []struct {
		body string
		ok   bool
	}{
		{`{"state":true,"data":{}}`, true},
		{`{"state":false,"code":0}`, false},
		{`{"code":0,"data":{}}`, true},
		{`{"code":40140125,"message":"x"}`, true},
		{`{"data":{"a":1}}`, true},
		{`{"state":1}`, true},
	}
	for _, tc := range tests {
		env, err := decodeEnvelope([]byte(tc.body))
		if assert.NoError(t, err, tc.body) {
			assert.Equal(t, tc.ok, env.OK(), tc.body)
		}
	}

	_, err := decodeEnvelope([]byte("not json"))
	assert.Error(t, err)
}
