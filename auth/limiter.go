package auth

import (
	"fmt"
	"time"

	"github.com/habedi/cloudauth/db"
	"github.com/habedi/cloudauth/pkg/autherr"
)

const windowSec = 2 * 60 * 60

// RefreshLimiter decides whether a refresh may hit the network. It only reads state; the
// coordinator records refreshes after they succeed.
type RefreshLimiter struct {
	minInterval   time.Duration
	maxPerWindow  int
	windowSeconds int64
}

// Decision is the outcome of a limiter check. RetryAfter is set when Allowed is false.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// NewRefreshLimiter builds a limiter from a stored or configured policy. The minimum interval is
// never below 30 minutes and the window cap never below one, whatever was stored.
func NewRefreshLimiter(minIntervalMinutes, maxPerTwoHours int) RefreshLimiter {
	if minIntervalMinutes < db.DefaultMinRefreshIntervalMinutes {
		minIntervalMinutes = db.DefaultMinRefreshIntervalMinutes
	}
	if maxPerTwoHours < 1 {
		maxPerTwoHours = 1
	}
	return RefreshLimiter{
		minInterval:   time.Duration(minIntervalMinutes) * time.Minute,
		maxPerWindow:  maxPerTwoHours,
		windowSeconds: windowSec,
	}
}

func limiterFor(cred *db.Credential) RefreshLimiter {
	return NewRefreshLimiter(cred.MinRefreshIntervalMinutes, cred.MaxRefreshesPerTwoHours)
}

// MinInterval returns the effective minimum interval between refreshes.
func (l RefreshLimiter) MinInterval() time.Duration { return l.minInterval }

// MaxPerWindow returns the effective number of refreshes allowed in two hours.
func (l RefreshLimiter) MaxPerWindow() int { return l.maxPerWindow }

// CountInWindow returns how many refreshes in history fall within the last two hours.
func (l RefreshLimiter) CountInWindow(history []int64, nowSec int64) int {
	cutoff := nowSec - l.windowSeconds
	n := 0
	for _, ts := range history {
		if ts >= cutoff {
			n++
		}
	}
	return n
}

// Check evaluates both rules. lastRefreshSec <= 0 means no refresh has ever been recorded.
func (l RefreshLimiter) Check(lastRefreshSec int64, history []int64, nowSec int64) Decision {
	if lastRefreshSec > 0 {
		elapsed := time.Duration(nowSec-lastRefreshSec) * time.Second
		if elapsed < l.minInterval {
			wait := l.minInterval - elapsed
			return Decision{
				Reason:     fmt.Sprintf("last refresh was %s ago, minimum interval is %s", roundMinutes(elapsed), roundMinutes(l.minInterval)),
				RetryAfter: wait,
			}
		}
	}

	cutoff := nowSec - l.windowSeconds
	count := 0
	oldest := int64(0)
	for _, ts := range history {
		if ts < cutoff {
			continue
		}
		if count == 0 || ts < oldest {
			oldest = ts
		}
		count++
	}
	if count >= l.maxPerWindow {
		wait := time.Duration(oldest+l.windowSeconds-nowSec) * time.Second
		if wait < 0 {
			wait = 0
		}
		return Decision{
			Reason:     fmt.Sprintf("%d refreshes in the last 2 hours, limit is %d", count, l.maxPerWindow),
			RetryAfter: wait,
		}
	}
	return Decision{Allowed: true}
}

// Err converts a denial into a RateLimited error; it returns nil for an allowed decision.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return autherr.Limited(fmt.Sprintf("token refresh rate limited (%s); retry in %s", d.Reason, autherr.HumanizeWait(d.RetryAfter)), d.RetryAfter)
}

func roundMinutes(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	return fmt.Sprintf("%dm", int(d/time.Minute))
}
