package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"barragecap/internal/browser/session"
	"barragecap/internal/browser/stealth"
	"barragecap/internal/config"
)

const startupProbeTimeout = 30 * time.Second

// Manager owns the browser process (or the connection to an external one) and
// hands out isolated tabs. All tab contexts derive from its allocator context.
type Manager struct {
	logger  *zap.Logger
	cfg     config.BrowserConfig
	mode    config.SessionMode
	persona stealth.Persona

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// wg tracks open tabs for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager resolves the session mode from the configuration, establishes
// the allocator and verifies the browser responds.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Manager, error) {
	m := &Manager{
		logger:  logger.Named("browser_manager"),
		cfg:     cfg,
		mode:    cfg.Mode(),
		persona: buildPersona(cfg),
	}

	switch m.mode {
	case config.ModeAttach:
		m.logger.Info("Attaching to running browser.", zap.String("debug_url", cfg.AttachURL))
		m.allocatorCtx, m.allocatorCancel = chromedp.NewRemoteAllocator(ctx, cfg.AttachURL)
	case config.ModePersistent:
		m.logger.Info("Launching browser with persistent profile.", zap.String("user_data_dir", cfg.UserDataDir))
		m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, m.buildAllocatorOptions()...)
	default:
		m.logger.Info("Launching disposable browser.")
		m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, m.buildAllocatorOptions()...)
	}

	// Attach mode skips the startup probe: opening a probe tab in someone's
	// running browser is visible and pointless, the browser is already up.
	if m.mode != config.ModeAttach {
		if err := m.probe(); err != nil {
			m.allocatorCancel()
			return nil, fmt.Errorf("browser failed to start or respond: %w", err)
		}
		m.logger.Info("Browser launched and responsive.")
	}

	return m, nil
}

// Mode reports the resolved session mode.
func (m *Manager) Mode() config.SessionMode {
	return m.mode
}

// Persona reports the request-shaping persona applied to every tab.
func (m *Manager) Persona() stealth.Persona {
	return m.persona
}

func buildPersona(cfg config.BrowserConfig) stealth.Persona {
	p := stealth.DefaultPersona
	if cfg.UserAgent != "" {
		p.UserAgent = cfg.UserAgent
	}
	if cfg.AcceptLanguage != "" {
		p.AcceptLanguage = cfg.AcceptLanguage
	}
	return p
}

// probe opens a throwaway tab and navigates to about:blank to confirm the
// browser process actually started.
func (m *Manager) probe() error {
	probeCtx, cancelTimeout := context.WithTimeout(m.allocatorCtx, startupProbeTimeout)
	defer cancelTimeout()
	probeCtx, cancelTab := chromedp.NewContext(probeCtx)
	defer cancelTab()

	return chromedp.Run(probeCtx, chromedp.Navigate("about:blank"))
}

// buildAllocatorOptions assembles the launch flags: the chromedp defaults
// minus the automation giveaways, plus the configured overrides.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		// The default enable-automation flag flips navigator.webdriver on.
		// Flags are keyed by name, so overriding it to false drops it from
		// the launch command line.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", m.cfg.Headless),
		chromedp.UserAgent(m.persona.UserAgent),
	)

	if m.cfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecutablePath))
	}
	if m.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(m.cfg.UserDataDir))
	}

	for _, arg := range m.cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	return opts
}

// Tab is one open browser page plus the executor used for CDP calls on it.
type Tab struct {
	Ctx    context.Context
	Exec   session.ActionExecutor
	cancel context.CancelFunc
	done   func()
	once   sync.Once
}

// Close releases the tab. Safe to call more than once.
func (t *Tab) Close() {
	t.once.Do(func() {
		t.cancel()
		t.done()
	})
}

// NewTab opens a fresh page, enables network event delivery and applies the
// persona, all before any navigation so the earliest requests are shaped and
// observed. The caller owns the returned Tab and must Close it.
func (m *Manager) NewTab(ctx context.Context) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(m.allocatorCtx)

	setup := chromedp.Tasks{network.Enable()}
	setup = append(setup, stealth.Apply(m.persona, m.logger)...)

	setupCtx, cancelSetup := session.CombineContext(tabCtx, ctx)
	defer cancelSetup()
	if err := chromedp.Run(setupCtx, setup); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to prepare tab: %w", err)
	}

	m.wg.Add(1)
	return &Tab{
		Ctx:    tabCtx,
		Exec:   &tabExecutor{tabCtx: tabCtx},
		cancel: cancel,
		done:   m.wg.Done,
	}, nil
}

// Shutdown waits for open tabs and terminates the browser process. For attach
// mode this only drops the connection; the external browser keeps running.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated.")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded; forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.allocatorCancel != nil {
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	m.logger.Info("Browser manager shutdown complete.")
	return nil
}

// tabExecutor runs CDP actions against a tab using a context that inherits
// the tab's target values but not the caller's cancellation, so background
// work like body fetches is not cut short by an operational deadline that has
// already served its purpose.
type tabExecutor struct {
	tabCtx context.Context
}

func (e *tabExecutor) RunBackgroundActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := session.CombineContext(session.Detach(e.tabCtx), ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}
