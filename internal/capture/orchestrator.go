package capture

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"barragecap/internal/config"
)

// PageCapturer abstracts the page driver for the orchestrator.
type PageCapturer interface {
	Capture(ctx context.Context, target Target) Result
	Document(ctx context.Context, pageURL string) (string, error)
}

// ResultWriter persists one result under the given file name and returns the
// written path.
type ResultWriter interface {
	Write(name string, result Result) (string, error)
}

// Summary aggregates batch-level counts.
type Summary struct {
	Total    int
	Captured int
	Empty    int
	Failed   int
}

// Orchestrator resolves the target list, runs each page through the capturer,
// and hands every result to the writer in batch order.
type Orchestrator struct {
	logger   *zap.Logger
	cfg      config.CaptureConfig
	capturer PageCapturer
	writer   ResultWriter
	limiter  *rate.Limiter
}

// NewOrchestrator builds a batch runner. PageDelay throttles page starts;
// zero means no throttle.
func NewOrchestrator(logger *zap.Logger, cfg config.CaptureConfig, capturer PageCapturer, writer ResultWriter) *Orchestrator {
	limit := rate.Inf
	if cfg.PageDelay > 0 {
		limit = rate.Every(cfg.PageDelay)
	}
	return &Orchestrator{
		logger:   logger.Named("orchestrator"),
		cfg:      cfg,
		capturer: capturer,
		writer:   writer,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Run executes the full batch and returns its summary. Individual page
// failures are recorded, never fatal; Run errors only when no targets can be
// resolved or the context ends.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	batchID := uuid.NewString()
	log := o.logger.With(zap.String("batch_id", batchID))

	targets, err := o.resolveTargets(ctx, log)
	if err != nil {
		return Summary{}, err
	}
	log.Info("Batch resolved.", zap.Int("targets", len(targets)))

	results, err := o.captureAll(ctx, targets)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Total: len(targets)}
	for _, result := range results {
		switch {
		case result.Failed:
			summary.Failed++
		case result.Count() == 0:
			summary.Empty++
		default:
			summary.Captured++
		}
		path, err := o.writer.Write(result.OutputName(), result)
		if err != nil {
			log.Error("Failed to write result.", zap.String("url", result.SourcePage), zap.Error(err))
			continue
		}
		log.Info("Result written.",
			zap.String("url", result.SourcePage),
			zap.Int("responses", result.Count()),
			zap.String("path", path))
	}
	log.Info("Batch finished.",
		zap.Int("captured", summary.Captured),
		zap.Int("empty", summary.Empty),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// resolveTargets builds the deduplicated batch list: explicit URLs first, then
// the URL file, then playlist expansions.
func (o *Orchestrator) resolveTargets(ctx context.Context, log *zap.Logger) ([]Target, error) {
	fromFile, err := readURLFile(o.cfg.URLFile)
	if err != nil {
		return nil, err
	}

	var expanded []string
	for _, seed := range o.cfg.PlaylistURLs {
		episodes, err := o.expandPlaylist(ctx, seed)
		if err != nil {
			log.Warn("Playlist expansion failed, capturing seed page only.",
				zap.String("url", seed), zap.Error(err))
			episodes = []string{seed}
		}
		expanded = append(expanded, episodes...)
	}

	targets := BuildTargets(o.cfg.URLs, fromFile, expanded, o.cfg.SeriesLabel)
	if len(targets) == 0 {
		return nil, fmt.Errorf("no target urls: provide --urls, --url-file or --playlist-urls")
	}
	return targets, nil
}

func (o *Orchestrator) expandPlaylist(ctx context.Context, seed string) ([]string, error) {
	pageHTML, err := o.capturer.Document(ctx, seed)
	if err != nil {
		return nil, err
	}
	return ResolveEpisodes(seed, pageHTML)
}

// captureAll runs the targets, sequentially by default or through a bounded
// pool when concurrency is enabled. Results come back in batch order either
// way.
func (o *Orchestrator) captureAll(ctx context.Context, targets []Target) ([]Result, error) {
	results := make([]Result, len(targets))

	if o.cfg.Concurrency <= 1 {
		for i, target := range targets {
			if err := o.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			results[i] = o.capturer.Capture(ctx, target)
		}
		return results, nil
	}

	sem := semaphore.NewWeighted(int64(o.cfg.Concurrency))
	var wg sync.WaitGroup
	for i, target := range targets {
		if err := o.limiter.Wait(ctx); err != nil {
			wg.Wait()
			return nil, err
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = o.capturer.Capture(ctx, target)
		}(i, target)
	}
	wg.Wait()
	return results, nil
}

// BuildTargets merges the three URL sources in order, deduplicating by
// canonical form with first occurrence winning. URLs that fail to parse are
// kept verbatim so the page failure surfaces during capture, not silently
// here.
func BuildTargets(explicit, fromFile, expanded []string, seriesLabel string) []Target {
	seen := make(map[string]bool)
	var targets []Target
	for _, group := range [][]string{explicit, fromFile, expanded} {
		for _, raw := range group {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			key, err := CanonicalizeURL(raw)
			if err != nil {
				key = raw
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			targets = append(targets, Target{
				URL:          raw,
				DisplayIndex: len(targets) + 1,
				SeriesLabel:  seriesLabel,
			})
		}
	}
	return targets
}

// readURLFile loads one URL per line; blank lines and #-comments are skipped.
func readURLFile(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open url file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read url file: %w", err)
	}
	return urls, nil
}
