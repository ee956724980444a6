package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

// Persona defines the request-shaping characteristics applied to a tab before
// its first navigation.
type Persona struct {
	UserAgent      string
	Platform       string
	AcceptLanguage string
}

// DefaultPersona is a realistic desktop Chrome profile.
var DefaultPersona = Persona{
	UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:       "Win32",
	AcceptLanguage: "zh-CN,zh;q=0.9,en;q=0.8",
}

// Locale returns the primary language tag of the persona's Accept-Language,
// e.g. "zh-CN" for "zh-CN,zh;q=0.9,en;q=0.8".
func (p Persona) Locale() string {
	primary, _, _ := strings.Cut(p.AcceptLanguage, ",")
	return strings.TrimSpace(primary)
}

// Apply builds the CDP actions that shape the tab to look like a regular
// user-operated browser. Must run before the first navigation: the user agent
// override, headers and the evasions document script only affect requests
// issued after they are set.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser persona",
		zap.String("user_agent", p.UserAgent),
		zap.String("accept_language", p.AcceptLanguage),
	)

	return chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithAcceptLanguage(p.AcceptLanguage).
			WithPlatform(p.Platform),

		// AddScriptToEvaluateOnNewDocument returns (id, err), so it needs an
		// ActionFunc wrapper to satisfy the chromedp.Action interface.
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),

		emulation.SetLocaleOverride().WithLocale(p.Locale()),

		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": p.AcceptLanguage,
		}),
	}
}
