package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/aibadge"
	"github.com/hazyhaar/aibadge/confirm"
	"github.com/hazyhaar/aibadge/detect"
	"github.com/hazyhaar/aibadge/disclosure"
	"github.com/hazyhaar/aibadge/idcache"
	"github.com/hazyhaar/aibadge/internal/config"
	"github.com/hazyhaar/aibadge/internal/fetch"
	"github.com/hazyhaar/aibadge/internal/idgen"
	"github.com/hazyhaar/aibadge/internal/store"
)

const version = "1.0.0"

// flags holds the persistent flags. Non-empty values override the file.
type flags struct {
	config   string
	db       string
	url      string
	http     string
	logLevel string
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	rootCmd := &cobra.Command{
		Use:           "aibadge",
		Short:         "Mark storefront applications that disclose AI-generated content",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&f.config, "config", "c", "", "YAML configuration file")
	pf.StringVar(&f.db, "db", "", "SQLite database path")
	pf.StringVar(&f.url, "url", "", "storefront start URL")
	pf.StringVar(&f.http, "http", "", "status server address (empty: disabled)")
	pf.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(newWatchCommand(f))
	rootCmd.AddCommand(newCheckCommand(f))
	rootCmd.AddCommand(newRefreshCommand(f))
	rootCmd.AddCommand(newMatchCommand(f))
	rootCmd.AddCommand(newHistoryCommand(f))
	rootCmd.AddCommand(newMCPCommand(f))

	return rootCmd
}

func (f *flags) logger() *slog.Logger {
	var level slog.Level
	switch f.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (f *flags) load() (*config.Config, error) {
	cfg := config.Default()
	if f.config != "" {
		var err error
		if cfg, err = config.LoadFile(f.config); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if f.db != "" {
		cfg.DBPath = f.db
	}
	if f.url != "" {
		cfg.StartURL = f.url
	}
	if f.http != "" {
		cfg.HTTPAddr = f.http
	}
	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// openEngine opens the database and builds an engine around host, which may
// be nil. The returned close function stops the engine and closes the store.
func openEngine(cfg *config.Config, logger *slog.Logger, host aibadge.Host) (*aibadge.Engine, *store.Store, func(), error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, err
	}

	client := fetch.New(fetch.Config{Timeout: cfg.HTTPTimeout, UserAgent: cfg.UserAgent, Logger: logger})
	rules := cfg.EffectiveRules()

	classifier := confirm.PhraseClassifier(cfg.MarkerPhrase)
	if cfg.ConfirmRule == "section" {
		classifier = disclosure.NewEvaluator(disclosure.NewMatcher(rules)).PageClassifier()
	}

	session := idgen.Prefixed("ses_", idgen.Default)()
	logger = logger.With("session", session)

	eng, err := aibadge.New(aibadge.Config{
		Store:      st,
		Source:     idcache.NewRemoteList(cfg.ListURL, client),
		Lookup:     confirm.NewDetailLookup(cfg.DetailURL, client),
		Classifier: classifier,
		Journal:    st.Journal(session),
		Outcomes:   st,
		Rules:      &rules,
		TTL:        cfg.TTL,
		Delay:      cfg.FetchDelay,
		Detector: detect.Config{
			Window:        cfg.Detector.Window,
			StartupRescan: cfg.Detector.StartupRescan,
			InitDelay:     cfg.Detector.InitDelay,
		},
		Host:   host,
		Logger: logger,
	})
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}

	closeFn := func() {
		eng.Stop()
		if err := st.Close(); err != nil {
			logger.Warn("aibadge: close store", "error", err)
		}
	}
	return eng, st, closeFn, nil
}
