package common

import (
	"net/url"
	"strconv"
	"strings"
)

// QueryInt reads key from q as a base-10 integer; missing or malformed values
// yield def.
func QueryInt(q url.Values, key string, def int) int {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// QueryLimit reads a page size. Values below 1 yield def and values above max
// are clamped to max; a max of zero or less disables the cap.
func QueryLimit(q url.Values, key string, def, max int) int {
	n := QueryInt(q, key, def)
	if n < 1 {
		n = def
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}
