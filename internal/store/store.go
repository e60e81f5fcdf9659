// Package store defines the Route record and the Store contract that the
// router and management API are built against. Two backends ship with this
// package (memory, sql); a third (redis) lives alongside them and a caller
// may register further backends through Register.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned by Get, Update and GetTarget when no record
// matches.
var ErrNotFound = errors.New("store: route not found")

// ErrInvalidPrefix is returned when a prefix fails normalization, e.g. it
// does not begin with "/".
var ErrInvalidPrefix = errors.New("store: invalid prefix")

// Record is the unit of storage: a routing prefix paired with an upstream
// target and caller-supplied metadata.
type Record struct {
	Prefix       string          `json:"-"`
	Target       string          `json:"target"`
	LastActivity time.Time       `json:"last_activity"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Patch carries the fields an Update call is allowed to change. A nil
// field is left untouched.
type Patch struct {
	Target       *string
	LastActivity *time.Time
	Data         json.RawMessage // merged shallowly into the existing Data object
}

// Store is the persistence contract. Implementations must make GetTarget
// observe either the pre- or post-state of any concurrent Add/Update/Remove,
// never a partial state (spec.md §5).
type Store interface {
	// GetTarget returns the record whose prefix is the longest prefix of
	// path under the normalization rules in Normalize, or ErrNotFound.
	GetTarget(ctx context.Context, path string) (Record, error)
	// Get returns the record stored at exactly prefix, or ErrNotFound.
	Get(ctx context.Context, prefix string) (Record, error)
	// GetAll returns every record, keyed by prefix.
	GetAll(ctx context.Context) (map[string]Record, error)
	// Add upserts a record at prefix. On insert, LastActivity is set to
	// rec.LastActivity; on replace, Target is replaced and Data merged.
	Add(ctx context.Context, prefix string, rec Record) error
	// Update merges p into the record at prefix. Returns ErrNotFound if
	// the prefix does not exist.
	Update(ctx context.Context, prefix string, p Patch) error
	// Remove deletes the record at prefix. Idempotent.
	Remove(ctx context.Context, prefix string) error
	// Close releases backend resources.
	Close() error
}

// Normalize applies the prefix normalization rule from spec.md §4.1:
// percent-decode once, collapse consecutive slashes, strip a trailing
// slash unless the whole path is "/".
func Normalize(path string) (string, error) {
	if path == "" {
		return "", ErrInvalidPrefix
	}
	decoded, err := url.PathUnescape(path)
	if err != nil {
		return "", ErrInvalidPrefix
	}
	if !strings.HasPrefix(decoded, "/") {
		return "", ErrInvalidPrefix
	}
	collapsed := collapseSlashes(decoded)
	if collapsed != "/" {
		collapsed = strings.TrimRight(collapsed, "/")
	}
	if collapsed == "" {
		collapsed = "/"
	}
	return collapsed, nil
}

func collapseSlashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSlash := false
	for _, r := range s {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Matches reports whether the stored prefix p matches request path r under
// spec.md §4.1's longest-prefix rule: p == r, or r starts with p+"/", or
// p == "/".
func Matches(p, r string) bool {
	if p == "/" {
		return true
	}
	if p == r {
		return true
	}
	return strings.HasPrefix(r, p+"/")
}

// LongestMatch scans the prefixes of all and returns the longest one that
// Matches path, and whether any matched at all.
func LongestMatch(all map[string]Record, path string) (string, Record, bool) {
	bestLen := -1
	var bestPrefix string
	var bestRec Record
	for prefix, rec := range all {
		if Matches(prefix, path) && len(prefix) > bestLen {
			bestLen = len(prefix)
			bestPrefix = prefix
			bestRec = rec
		}
	}
	if bestLen < 0 {
		return "", Record{}, false
	}
	return bestPrefix, bestRec, true
}

// MergeData shallow-merges patch (a JSON object) into base (a JSON object),
// returning the merged JSON object. Either may be nil/empty, in which case
// the other is returned verbatim.
func MergeData(base, patch json.RawMessage) (json.RawMessage, error) {
	if len(patch) == 0 {
		return base, nil
	}
	if len(base) == 0 {
		return patch, nil
	}
	var baseMap, patchMap map[string]any
	if err := json.Unmarshal(base, &baseMap); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(patch, &patchMap); err != nil {
		return nil, err
	}
	if baseMap == nil {
		baseMap = map[string]any{}
	}
	for k, v := range patchMap {
		baseMap[k] = v
	}
	return json.Marshal(baseMap)
}
