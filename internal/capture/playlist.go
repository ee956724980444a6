package capture

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// playPathPrefix marks episode detail pages on the site.
const playPathPrefix = "/play/"

// ErrNoPlaylistLinks is returned when a playlist page yields no episode
// candidates at all. Callers fall back to capturing the seed page itself.
var ErrNoPlaylistLinks = errors.New("no episode links found on playlist page")

// episodeSlugRe matches slugs carrying a trailing numeric episode qualifier,
// e.g. "some-show-12". The stem identifies the series.
var episodeSlugRe = regexp.MustCompile(`^(.+)-(\d+)$`)

type episodeCandidate struct {
	canonical string
	node      *html.Node
}

// ResolveEpisodes extracts same-series episode URLs from a rendered playlist
// page. Candidates are anchors resolving under /play/. When the seed slug
// carries a trailing -<digits> episode qualifier, candidates sharing the seed's
// slug stem are kept. Otherwise candidates are grouped by their nearest
// ancestor element containing at least two of them, and the largest group
// wins; ties go to the group appearing first in document order. Results are
// deduplicated by canonical URL, first occurrence preserved.
func ResolveEpisodes(seedURL, pageHTML string) ([]string, error) {
	base, err := url.Parse(seedURL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse playlist url %q: %w", seedURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("cannot parse playlist document: %w", err)
	}

	seen := make(map[string]bool)
	var candidates []episodeCandidate
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if !strings.HasPrefix(resolved.Path, playPathPrefix) {
			return
		}
		canonical, err := CanonicalizeURL(resolved.String())
		if err != nil || seen[canonical] {
			return
		}
		seen[canonical] = true
		candidates = append(candidates, episodeCandidate{canonical: canonical, node: sel.Get(0)})
	})
	if len(candidates) == 0 {
		return nil, ErrNoPlaylistLinks
	}

	if stem := seriesStem(base.Path); stem != "" {
		var urls []string
		for _, c := range candidates {
			if candidateStem(c.canonical) == stem {
				urls = append(urls, c.canonical)
			}
		}
		if len(urls) > 0 {
			return urls, nil
		}
	}
	return largestCluster(candidates), nil
}

// seriesStem returns the series portion of a /play/ slug when the slug ends in
// a numeric episode qualifier, or "" when it does not.
func seriesStem(path string) string {
	slug := playSlug(path)
	if m := episodeSlugRe.FindStringSubmatch(slug); m != nil {
		return m[1]
	}
	return ""
}

func candidateStem(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return ""
	}
	slug := playSlug(u.Path)
	if m := episodeSlugRe.FindStringSubmatch(slug); m != nil {
		return m[1]
	}
	return slug
}

// playSlug extracts the first path segment after /play/.
func playSlug(path string) string {
	rest := strings.TrimPrefix(path, playPathPrefix)
	if rest == path {
		return ""
	}
	slug, _, _ := strings.Cut(rest, "/")
	return slug
}

// largestCluster groups candidates by the nearest ancestor holding at least
// two of them and returns the biggest group in document order. A candidate
// with no shared ancestor forms its own group.
func largestCluster(candidates []episodeCandidate) []string {
	depth := make(map[*html.Node]int)
	for _, c := range candidates {
		for n := c.node; n != nil; n = n.Parent {
			depth[n]++
		}
	}
	groups := make(map[*html.Node][]string)
	var order []*html.Node
	for _, c := range candidates {
		var root *html.Node
		for n := c.node.Parent; n != nil; n = n.Parent {
			if depth[n] >= 2 {
				root = n
				break
			}
		}
		if _, ok := groups[root]; !ok {
			order = append(order, root)
		}
		groups[root] = append(groups[root], c.canonical)
	}

	var best []string
	for _, root := range order {
		if len(groups[root]) > len(best) {
			best = groups[root]
		}
	}
	return best
}
