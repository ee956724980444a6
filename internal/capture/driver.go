package capture

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"barragecap/internal/browser"
	"barragecap/internal/browser/session"
	"barragecap/internal/config"
)

const playClickTimeout = 3 * time.Second

// playClickScript nudges playback on the first recognizable player control.
// Player markup varies across skins; failure is irrelevant because most pages
// autoplay and fire the barrage calls regardless.
const playClickScript = `(() => {
	const selectors = [
		'.vjs-big-play-button',
		'.dplayer-play-icon',
		'.play-btn',
		'[class*="btn-play"]',
		'button[aria-label*="play" i]',
		'video',
	];
	for (const sel of selectors) {
		const el = document.querySelector(sel);
		if (!el) continue;
		if (el.tagName === 'VIDEO' && typeof el.play === 'function') {
			el.play().catch(() => {});
		} else {
			el.click();
		}
		return sel;
	}
	return null;
})()`

// Driver runs individual pages: one tab per target, capture session attached
// before navigation so early responses are never missed.
type Driver struct {
	logger     *zap.Logger
	browser    *browser.Manager
	capture    config.CaptureConfig
	navTimeout time.Duration
}

// NewDriver wires a page driver over an initialized browser manager.
func NewDriver(logger *zap.Logger, mgr *browser.Manager, cfg *config.Config) *Driver {
	return &Driver{
		logger:     logger.Named("driver"),
		browser:    mgr,
		capture:    cfg.Capture,
		navTimeout: cfg.Browser.NavigationTimeout,
	}
}

// Capture navigates one target and collects its barrage exchanges. Errors are
// folded into the result; a page failure never aborts the batch.
func (d *Driver) Capture(ctx context.Context, target Target) Result {
	result := Result{Target: target, SourcePage: target.URL, CapturedAt: time.Now().UTC()}
	log := d.logger.With(zap.String("url", target.URL), zap.Int("index", target.DisplayIndex))

	tab, err := d.browser.NewTab(ctx)
	if err != nil {
		result.Failed = true
		result.FailReason = err.Error()
		log.Error("Failed to open tab.", zap.Error(err))
		return result
	}
	defer tab.Close()

	sess := session.New(d.logger, session.MatchBarrage, tab.Exec)
	sess.Attach(tab.Ctx)

	if err := d.navigate(ctx, tab, target.URL); err != nil {
		result.Failed = true
		result.FailReason = err.Error()
		result.Exchanges = sess.Snapshot()
		result.CapturedAt = time.Now().UTC()
		log.Error("Navigation failed.", zap.Error(err))
		return result
	}

	var title string
	if err := chromedp.Run(tab.Ctx, chromedp.Title(&title)); err == nil {
		result.PageTitle = strings.TrimSpace(title)
	}

	d.triggerPlayback(tab, log)

	result.Exchanges = sess.AwaitQuiescence(ctx, d.capture.FirstResponseTimeout, d.capture.ExtraWait)
	result.CapturedAt = time.Now().UTC()

	if len(result.Exchanges) == 0 && !result.Failed {
		log.Warn("No barrage responses captured. If the page shows a verification challenge, rerun with --headed and complete it manually.")
	} else {
		log.Info("Page capture complete.", zap.Int("responses", len(result.Exchanges)))
	}
	return result
}

// Document fetches the rendered HTML of a page, used for playlist expansion.
func (d *Driver) Document(ctx context.Context, pageURL string) (string, error) {
	tab, err := d.browser.NewTab(ctx)
	if err != nil {
		return "", err
	}
	defer tab.Close()

	if err := d.navigate(ctx, tab, pageURL); err != nil {
		return "", err
	}
	var pageHTML string
	if err := chromedp.Run(tab.Ctx, chromedp.OuterHTML("html", &pageHTML, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return pageHTML, nil
}

func (d *Driver) navigate(ctx context.Context, tab *browser.Tab, pageURL string) error {
	navCtx, cancelCombined := session.CombineContext(tab.Ctx, ctx)
	defer cancelCombined()
	if d.navTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(navCtx, d.navTimeout)
		defer cancel()
	}
	return chromedp.Run(navCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (d *Driver) triggerPlayback(tab *browser.Tab, log *zap.Logger) {
	clickCtx, cancel := context.WithTimeout(tab.Ctx, playClickTimeout)
	defer cancel()

	var clicked jsoniter.RawMessage
	if err := chromedp.Run(clickCtx, chromedp.Evaluate(playClickScript, &clicked)); err != nil {
		log.Debug("Play control click skipped.", zap.Error(err))
		return
	}
	log.Debug("Play control clicked.", zap.ByteString("selector", clicked))
}
