package ratelimit

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// Hints are rate limit values reported by the server for a single response.
type Hints struct {
	Limit     *int
	Remaining *int
}

func (h Hints) IsEmpty() bool {
	return h.Limit == nil && h.Remaining == nil
}

// Merge returns h with fields overridden by the non-nil fields of other.
func (h Hints) Merge(other Hints) Hints {
	if other.Limit != nil {
		h.Limit = other.Limit
	}
	if other.Remaining != nil {
		h.Remaining = other.Remaining
	}
	return h
}

// headerFamilies are scanned in priority order: x-ratelimit-* wins over x-rate-limit-*.
var headerFamilies = []string{"ratelimit", "rate-limit"}

// HintsFromHeader looks for X-Ratelimit-* / X-Rate-Limit-* style headers in any casing.
func HintsFromHeader(header http.Header) Hints {
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)

	var hints Hints
	for _, family := range headerFamilies {
		for _, name := range names {
			lower := strings.ToLower(name)
			if !strings.Contains(lower, family) || len(header[name]) == 0 {
				continue
			}

			value, err := strconv.Atoi(strings.TrimSpace(header[name][0]))
			if err != nil || value < 0 {
				continue
			}

			switch {
			case strings.HasSuffix(lower, "-limit") && hints.Limit == nil:
				hints.Limit = &value
			case strings.HasSuffix(lower, "-remaining") && hints.Remaining == nil:
				hints.Remaining = &value
			}
		}
	}

	return hints
}
