// Package safety provides the guard rails around Metabase tool calls:
// database filtering, confirmation of destructive operations, and audit
// logging.
package safety

import (
	"path/filepath"
	"strconv"
)

// Filter decides which Metabase databases tools may query or modify, using an
// allowlist and a denylist of glob patterns (filepath.Match syntax) matched
// against the database ID.
//
// Rules:
//   - If both lists are empty (or nil), every database is allowed.
//   - The denylist always takes priority over the allowlist.
//   - A non-empty allowlist must match for the database to be allowed.
type Filter struct {
	allowlist []string
	denylist  []string
}

// NewFilter constructs a Filter. Either list may be nil or empty.
func NewFilter(allowlist, denylist []string) *Filter {
	return &Filter{
		allowlist: allowlist,
		denylist:  denylist,
	}
}

// AllowsDatabase reports whether the database with the given ID may be used.
// A nil filter allows everything.
func (f *Filter) AllowsDatabase(id int) bool {
	if f == nil {
		return true
	}
	return f.IsAllowed(strconv.Itoa(id))
}

// IsAllowed reports whether key passes the filter.
func (f *Filter) IsAllowed(key string) bool {
	for _, pattern := range f.denylist {
		if matchGlob(pattern, key) {
			return false
		}
	}

	if len(f.allowlist) == 0 {
		return true
	}
	for _, pattern := range f.allowlist {
		if matchGlob(pattern, key) {
			return true
		}
	}
	return false
}

// matchGlob treats malformed patterns as non-matching.
func matchGlob(pattern, key string) bool {
	matched, err := filepath.Match(pattern, key)
	return err == nil && matched
}
