package session

import (
	"net/http"
	"net/url"
	"path"
)

// barrageEndpoint is the final path segment of the barrage fetch API on the
// target site, e.g. https://rest.iyf.tv/v3/video/getBarrage?...
const barrageEndpoint = "getBarrage"

// MatchFunc decides whether a network exchange belongs to the capture, given
// its request URL and HTTP method. Implementations must be pure.
type MatchFunc func(rawURL, method string) bool

// MatchBarrage reports whether the exchange targets the barrage endpoint.
// The match is anchored on the last path segment, case-sensitively, so
// analytics or ad requests that merely mention the endpoint name elsewhere in
// the URL never match. Only GET and POST are considered, matching the methods
// observed in the wild.
func MatchBarrage(rawURL, method string) bool {
	if method != http.MethodGet && method != http.MethodPost {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return path.Base(u.Path) == barrageEndpoint
}
