package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"barragecap/internal/browser"
	"barragecap/internal/capture"
	"barragecap/internal/config"
	"barragecap/internal/observability"
	"barragecap/internal/output"
)

// flagBindings maps capture command flags onto their viper keys.
var flagBindings = map[string]string{
	"urls":               "capture.urls",
	"url-file":           "capture.url_file",
	"playlist-urls":      "capture.playlist_urls",
	"timeout":            "capture.first_response_timeout",
	"extra-wait":         "capture.extra_wait",
	"concurrency":        "capture.concurrency",
	"page-delay":         "capture.page_delay",
	"storage-state":      "capture.storage_state",
	"save-storage-state": "capture.save_storage_state",
	"series-name":        "capture.series_label",
	"user-data-dir":      "browser.user_data_dir",
	"executable-path":    "browser.executable_path",
	"connect-over-cdp":   "browser.attach_url",
	"user-agent":         "browser.user_agent",
	"accept-language":    "browser.accept_language",
	"output-dir":         "output.dir",
}

// newCaptureCmd creates and configures the `capture` command.
func newCaptureCmd() *cobra.Command {
	captureCmd := &cobra.Command{
		Use:   "capture [urls...]",
		Short: "Capture barrage API responses from one or more video pages",
		Long: `Capture drives a Chrome instance through each target page, intercepts the
barrage (scrolling comment) API responses the player fires, and writes one
JSON record per page into the output directory.

Targets come from positional arguments, --urls, --url-file and --playlist-urls,
merged in that order and deduplicated.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so command-line values override
			// the config file and environment with the right precedence.
			for flag, key := range flagBindings {
				if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			// --headed inverts browser.headless, so it is applied in RunE.
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if headed, _ := cmd.Flags().GetBool("headed"); headed {
				viper.Set("browser.headless", false)
			}

			cfg, err := config.NewFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			// Positional arguments are additional explicit targets.
			cfg.Capture.URLs = append(cfg.Capture.URLs, args...)

			summary, err := runBatch(ctx, cfg, logger)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Capture aborted by user signal")
					return fmt.Errorf("capture aborted")
				}
				return err
			}

			fmt.Printf("\nCapture complete: %d pages, %d with responses, %d empty, %d failed.\n",
				summary.Total, summary.Captured, summary.Empty, summary.Failed)
			fmt.Printf("Output directory: %s\n", cfg.Output.Dir)
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d pages failed", summary.Failed, summary.Total)
			}
			return nil
		},
	}

	captureCmd.Flags().StringSlice("urls", nil, "Explicit page URLs to capture.")
	captureCmd.Flags().String("url-file", "", "File with one page URL per line.")
	captureCmd.Flags().StringSlice("playlist-urls", nil, "Episode pages whose same-series playlist should be expanded.")
	captureCmd.Flags().StringP("output-dir", "o", "barrage_output", "Directory for the per-page JSON records.")
	captureCmd.Flags().Duration("timeout", 15*time.Second, "How long to wait for the first barrage response.")
	captureCmd.Flags().Duration("extra-wait", 3*time.Second, "Extra window for trailing responses after the first one.")
	captureCmd.Flags().Bool("headed", false, "Run the browser with a visible window.")
	captureCmd.Flags().String("user-data-dir", "", "Chrome profile directory for a persistent session.")
	captureCmd.Flags().String("executable-path", "", "Chrome/Chromium binary to launch.")
	captureCmd.Flags().String("connect-over-cdp", "", "DevTools websocket URL of an already running browser.")
	captureCmd.Flags().String("storage-state", "", "Cookie state file to load before the batch.")
	captureCmd.Flags().Bool("save-storage-state", false, "Write the cookie state back after the batch.")
	captureCmd.Flags().String("user-agent", "", "Override the browser user agent.")
	captureCmd.Flags().String("accept-language", "", "Accept-Language header and navigator.language value.")
	captureCmd.Flags().String("series-name", "", "Series label used as the output file prefix.")
	captureCmd.Flags().IntP("concurrency", "j", 1, "Pages captured in parallel (fresh sessions only).")
	captureCmd.Flags().Duration("page-delay", 0, "Minimum delay between page starts.")

	return captureCmd
}

// runBatch wires the components and executes the batch end to end.
func runBatch(ctx context.Context, cfg *config.Config, logger *zap.Logger) (capture.Summary, error) {
	manager, err := browser.NewManager(ctx, logger, cfg.Browser)
	if err != nil {
		return capture.Summary{}, fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser shutdown", zap.Error(err))
		}
	}()

	if cfg.Capture.StorageState != "" {
		if err := manager.LoadStorageState(ctx, cfg.Capture.StorageState); err != nil {
			if errors.Is(err, os.ErrNotExist) && cfg.Capture.SaveStorageState {
				logger.Info("Storage state file does not exist yet, starting clean.",
					zap.String("path", cfg.Capture.StorageState))
			} else {
				return capture.Summary{}, fmt.Errorf("failed to load storage state: %w", err)
			}
		}
	}

	writer, err := output.NewWriter(logger, cfg.Output.Dir)
	if err != nil {
		return capture.Summary{}, err
	}
	driver := capture.NewDriver(logger, manager, cfg)
	orch := capture.NewOrchestrator(logger, cfg.Capture, driver, writer)

	summary, err := orch.Run(ctx)
	if err != nil {
		return summary, err
	}

	if cfg.Capture.SaveStorageState {
		if err := manager.SaveStorageState(ctx, cfg.Capture.StorageState); err != nil {
			logger.Error("Failed to save storage state.", zap.Error(err))
		}
	}
	return summary, nil
}
