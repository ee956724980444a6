package capture

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const episodePageHTML = `<!DOCTYPE html>
<html><body>
<div class="player">video player here</div>
<div class="episode-list">
  <a href="/play/demon-hunter-1">第01集</a>
  <a href="/play/demon-hunter-2">第02集</a>
  <a href="/play/demon-hunter-3">第03集</a>
  <a href="/play/demon-hunter-4">第04集</a>
  <a href="/play/demon-hunter-5">第05集</a>
</div>
<div class="recommend">
  <a href="/play/other-show-1">猜你喜欢</a>
  <a href="/play/totally-different-9">热播</a>
  <a href="https://www.iyf.tv/play/third-thing-2">推荐</a>
</div>
<footer>
  <a href="/about">关于</a>
  <a href="/search/demon">搜索</a>
</footer>
</body></html>`

func TestResolveEpisodes_SameSeriesOnly(t *testing.T) {
	got, err := ResolveEpisodes("https://www.iyf.tv/play/demon-hunter-3", episodePageHTML)
	require.NoError(t, err)

	want := []string{
		"https://www.iyf.tv/play/demon-hunter-1",
		"https://www.iyf.tv/play/demon-hunter-2",
		"https://www.iyf.tv/play/demon-hunter-3",
		"https://www.iyf.tv/play/demon-hunter-4",
		"https://www.iyf.tv/play/demon-hunter-5",
	}
	assert.Equal(t, want, got)
}

func TestResolveEpisodes_Deterministic(t *testing.T) {
	first, err := ResolveEpisodes("https://www.iyf.tv/play/demon-hunter-3", episodePageHTML)
	require.NoError(t, err)
	second, err := ResolveEpisodes("https://www.iyf.tv/play/demon-hunter-3", episodePageHTML)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("episode resolution not deterministic (-first +second):\n%s", diff)
	}
}

func TestResolveEpisodes_LargestClusterWinsWithoutEpisodeQualifier(t *testing.T) {
	// The seed slug carries no trailing episode number, so grouping by the
	// nearest shared container decides which links are the playlist.
	pageHTML := `<html><body>
<div class="episodes">
  <a href="/play/variety-show-ep01">EP01</a>
  <a href="/play/variety-show-ep02">EP02</a>
  <a href="/play/variety-show-ep03">EP03</a>
</div>
<div class="sidebar">
  <a href="/play/unrelated-movie">movie</a>
  <a href="/play/another-movie">movie</a>
</div>
</body></html>`

	got, err := ResolveEpisodes("https://www.iyf.tv/play/variety-show", pageHTML)
	require.NoError(t, err)

	want := []string{
		"https://www.iyf.tv/play/variety-show-ep01",
		"https://www.iyf.tv/play/variety-show-ep02",
		"https://www.iyf.tv/play/variety-show-ep03",
	}
	assert.Equal(t, want, got)
}

func TestResolveEpisodes_DeduplicatesVariants(t *testing.T) {
	pageHTML := `<html><body><div>
  <a href="/play/show-1">1</a>
  <a href="/play/show-1#comments">1 again</a>
  <a href="/play/show-1?utm_source=share">1 shared</a>
  <a href="/play/show-2">2</a>
</div></body></html>`

	got, err := ResolveEpisodes("https://www.iyf.tv/play/show-1", pageHTML)
	require.NoError(t, err)

	want := []string{
		"https://www.iyf.tv/play/show-1",
		"https://www.iyf.tv/play/show-2",
	}
	assert.Equal(t, want, got)
}

func TestResolveEpisodes_NoCandidates(t *testing.T) {
	pageHTML := `<html><body>
  <a href="/about">about</a>
  <a href="https://example.com/play-store">unrelated</a>
</body></html>`

	_, err := ResolveEpisodes("https://www.iyf.tv/play/lonely-1", pageHTML)
	assert.ErrorIs(t, err, ErrNoPlaylistLinks)
}

func TestResolveEpisodes_RelativeLinksResolvedAgainstSeed(t *testing.T) {
	pageHTML := `<html><body><div>
  <a href="ep-1">one</a>
  <a href="ep-2">two</a>
</div></body></html>`

	got, err := ResolveEpisodes("https://www.iyf.tv/play/series/ep-1", pageHTML)
	require.NoError(t, err)

	want := []string{
		"https://www.iyf.tv/play/series/ep-1",
		"https://www.iyf.tv/play/series/ep-2",
	}
	assert.Equal(t, want, got)
}

func TestResolveEpisodes_BadSeedURL(t *testing.T) {
	_, err := ResolveEpisodes("http://%zz", episodePageHTML)
	assert.Error(t, err)
}
