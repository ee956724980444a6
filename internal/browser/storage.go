package browser

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StorageState is the on-disk cookie snapshot used to carry a verified
// session across runs without a persistent profile.
type StorageState struct {
	SavedAt time.Time     `json:"saved_at"`
	Cookies []CookieState `json:"cookies"`
}

// CookieState mirrors a browser cookie in a stable serialization format.
type CookieState struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"same_site,omitempty"`
}

// LoadStorageState installs cookies from path into the browser. Must run
// before the first target navigation so the earliest requests carry them.
func (m *Manager) LoadStorageState(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read storage state %q: %w", path, err)
	}
	var state StorageState
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("cannot parse storage state %q: %w", path, err)
	}

	params := cookieParams(state)
	if err := m.runInScratchTab(ctx, network.SetCookies(params)); err != nil {
		return fmt.Errorf("failed to install %d cookies: %w", len(params), err)
	}
	m.logger.Info("Storage state loaded.", zap.String("path", path), zap.Int("cookies", len(params)))
	return nil
}

// SaveStorageState dumps all browser cookies (HttpOnly included) to path.
func (m *Manager) SaveStorageState(ctx context.Context, path string) error {
	var cookies []*network.Cookie
	action := chromedp.ActionFunc(func(c context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(c)
		return err
	})
	if err := m.runInScratchTab(ctx, action); err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}

	state := snapshotCookies(cookies)
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot serialize storage state: %w", err)
	}
	// Cookies are credentials; keep the file private.
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("cannot write storage state %q: %w", path, err)
	}
	m.logger.Info("Storage state saved.", zap.String("path", path), zap.Int("cookies", len(state.Cookies)))
	return nil
}

// cookieParams converts a stored snapshot into CDP cookie parameters.
func cookieParams(state StorageState) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(state.Cookies))
	for _, c := range state.Cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			expiry := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &expiry
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		params = append(params, p)
	}
	return params
}

// snapshotCookies converts live browser cookies into the on-disk snapshot.
func snapshotCookies(cookies []*network.Cookie) StorageState {
	state := StorageState{SavedAt: time.Now().UTC(), Cookies: make([]CookieState, 0, len(cookies))}
	for _, c := range cookies {
		state.Cookies = append(state.Cookies, CookieState{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return state
}

// runInScratchTab executes actions in a short-lived tab. Cookie storage is
// browser-wide, so any target works.
func (m *Manager) runInScratchTab(ctx context.Context, actions ...chromedp.Action) error {
	tab, err := m.NewTab(ctx)
	if err != nil {
		return err
	}
	defer tab.Close()
	return tab.Exec.RunBackgroundActions(ctx, actions...)
}
