package capture

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"barragecap/internal/browser/session"
)

// Target is one page queued for barrage extraction. Immutable once the batch
// list is built; identity is its position in the resolved, deduplicated list.
type Target struct {
	URL          string
	DisplayIndex int // 1-based position in the batch
	SeriesLabel  string
}

// Result is the per-page output unit handed to the writer.
type Result struct {
	Target     Target
	SourcePage string
	CapturedAt time.Time
	Exchanges  []session.CapturedExchange
	PageTitle  string
	Failed     bool
	FailReason string
}

// Count reports the number of captured exchanges.
func (r Result) Count() int { return len(r.Exchanges) }

// OutputName builds the stable output identity for this result:
// {seriesLabel}_{episodeTag}_barrage.json, or {index:02d}_{episodeTag}_barrage.json
// when no series label was supplied.
func (r Result) OutputName() string {
	tag := EpisodeTag(r.Target.URL, r.PageTitle)
	if r.Target.SeriesLabel != "" {
		return fmt.Sprintf("%s_%s_barrage.json", slugify(r.Target.SeriesLabel), tag)
	}
	return fmt.Sprintf("%02d_%s_barrage.json", r.Target.DisplayIndex, tag)
}

// trackingParams are query parameters that identify the click, not the page.
// They are stripped during canonicalization so the same episode reached
// through different share links deduplicates to one target.
var trackingParams = map[string]bool{
	"spm":         true,
	"from":        true,
	"ref":         true,
	"share_token": true,
}

func isTrackingParam(name string) bool {
	return trackingParams[name] || strings.HasPrefix(name, "utm_")
}

// CanonicalizeURL normalizes a URL for deduplication: lowercased scheme and
// host, no fragment, no tracking parameters, no trailing slash. The order of
// the surviving query parameters is preserved.
func CanonicalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("cannot parse url %q: %w", raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		var kept []string
		for _, pair := range strings.Split(u.RawQuery, "&") {
			name, _, _ := strings.Cut(pair, "=")
			if pair == "" || isTrackingParam(name) {
				continue
			}
			kept = append(kept, pair)
		}
		u.RawQuery = strings.Join(kept, "&")
	}

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String(), nil
}

var (
	schemeRe = regexp.MustCompile(`^https?://`)
	unsafeRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// slugify reduces free text to the filename-safe charset.
func slugify(s string) string {
	return strings.Trim(unsafeRe.ReplaceAllString(s, "-"), "-")
}

// EpisodeTag derives the per-episode filename component from the target URL,
// falling back to the page title when the URL yields nothing usable.
func EpisodeTag(pageURL, pageTitle string) string {
	slug := schemeRe.ReplaceAllString(pageURL, "")
	slug = strings.TrimRight(slug, "/")
	slug = strings.ReplaceAll(slug, "/", "_")
	slug = unsafeRe.ReplaceAllString(slug, "-")
	if slug != "" {
		return slug
	}
	if title := slugify(pageTitle); title != "" {
		return title
	}
	return "barrage"
}
