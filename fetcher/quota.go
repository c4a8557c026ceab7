package fetcher

import (
	"strconv"
	"strings"
)

// Quota payload keys, all in bytes.
const (
	QuotaTotal  = "total"
	QuotaUsed   = "used"
	QuotaRemain = "remain"
)

// deriveQuota converts a profile payload carrying space_info.all_total/all_use/all_remain sizes
// into the quota shape. A missing used or remain figure is computed from the other two.
func deriveQuota(userInfo map[string]any) (map[string]any, bool) {
	space, ok := userInfo["space_info"].(map[string]any)
	if !ok {
		return nil, false
	}
	total, hasTotal := sizeOf(space, "all_total")
	used, hasUsed := sizeOf(space, "all_use")
	remain, hasRemain := sizeOf(space, "all_remain")
	if !hasTotal {
		return nil, false
	}
	switch {
	case hasUsed && !hasRemain:
		remain = total - used
	case hasRemain && !hasUsed:
		used = total - remain
	case !hasUsed && !hasRemain:
		return nil, false
	}
	return map[string]any{QuotaTotal: total, QuotaUsed: used, QuotaRemain: remain}, true
}

func sizeOf(space map[string]any, key string) (float64, bool) {
	entry, ok := space[key].(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := entry["size"].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}
