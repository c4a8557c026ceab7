package autherr_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/habedi/cloudauth/pkg/autherr"
	"github.com/stretchr/testify/assert"
)

func TestErrorWrapsUnderlying(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	err := autherr.New(autherr.Network, "token refresh request failed", base)

	assert.Equal(t, "token refresh request failed: dial tcp: connection refused", err.Error())
	assert.ErrorIs(t, err, base)
	assert.Equal(t, autherr.Network, autherr.TypeOf(err))
}

func TestIsSeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("quota: %w", autherr.New(autherr.Config, "missing refresh token", nil))

	assert.True(t, autherr.Is(err, autherr.Config))
	assert.False(t, autherr.Is(err, autherr.Upstream))
	assert.False(t, autherr.Is(nil, autherr.Config))
	assert.Equal(t, autherr.Type(""), autherr.TypeOf(errors.New("plain")))
}

func TestLimitedCarriesRetryAfter(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", autherr.Limited("slow down", 12*time.Minute))

	assert.True(t, autherr.Is(err, autherr.RateLimited))
	assert.Equal(t, 12*time.Minute, autherr.RetryAfter(err))
	assert.Zero(t, autherr.RetryAfter(errors.New("plain")))
}

func TestHumanizeWait(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "now"},
		{-time.Second, "now"},
		{1500 * time.Millisecond, "~2 seconds"},
		{time.Minute, "~1 minute"},
		{61 * time.Second, "~2 minutes"},
		{29 * time.Minute, "~29 minutes"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, autherr.HumanizeWait(c.in), "input %v", c.in)
	}
}
