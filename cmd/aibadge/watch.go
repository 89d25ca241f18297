package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/aibadge"
	"github.com/hazyhaar/aibadge/internal/browser"
)

func newWatchCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Open the storefront in Chrome and mark tiles as they appear",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runWatch(ctx, f)
		},
	}
}

func runWatch(ctx context.Context, f *flags) error {
	cfg, err := f.load()
	if err != nil {
		return err
	}
	logger := f.logger()

	mode := browser.ModeHeadless
	if cfg.Browser.Mode == "headful" {
		mode = browser.ModeHeadful
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Mode:             mode,
		Stealth:          cfg.Browser.StealthEnabled(),
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer mgr.Close()

	tab, err := browser.OpenTab(ctx, mgr, cfg.StartURL)
	if err != nil {
		return err
	}

	// Page events only arrive after Attach, once eng is set.
	var eng *aibadge.Engine
	sf := browser.NewStorefront(tab, browser.Handlers{
		OnMutation: func() { eng.Notify() },
		OnNavigate: func(url string) { eng.Navigated(url) },
		OnDocument: func(url string) { eng.DocumentReset(url) },
	}, logger)

	eng, _, closeEngine, err := openEngine(cfg, logger, sf)
	if err != nil {
		return err
	}
	defer closeEngine()

	mgr.OnRecycle(func(*rod.Browser) {
		next, err := browser.OpenTab(ctx, mgr, cfg.StartURL)
		if err != nil {
			logger.Error("aibadge: reopen tab after recycle", "error", err)
			return
		}
		if err := sf.Reattach(ctx, next); err != nil {
			logger.Error("aibadge: reattach after recycle", "error", err)
		}
	})

	if err := sf.Attach(ctx); err != nil {
		return err
	}
	defer sf.Detach()
	logger.Info("aibadge: watching", "url", cfg.StartURL, "mode", mode)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })

	if cfg.HTTPAddr != "" {
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: eng.Routes(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			logger.Info("aibadge: status server", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
