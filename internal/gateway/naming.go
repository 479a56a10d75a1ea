package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedName is returned when a namespaced name cannot be split
// into an integration slug and a local name.
var ErrMalformedName = errors.New("malformed namespaced name")

// SplitName splits a namespaced name of the form "<slug>/<name>" on the
// first separator. Both segments must be non-empty; the local name may
// itself contain further slashes (resource URIs do). No I/O happens on
// a parse failure.
func SplitName(namespaced string) (slug, name string, err error) {
	idx := strings.Index(namespaced, "/")
	if idx <= 0 || idx == len(namespaced)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedName, namespaced)
	}
	return namespaced[:idx], namespaced[idx+1:], nil
}

// JoinName renders the routable name for a tool or resource under an
// integration's namespace.
func JoinName(slug, name string) string {
	return slug + "/" + name
}
