package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"

	"icalsync/internal/config"
	"icalsync/internal/directory"
	"icalsync/internal/ics"
	"icalsync/internal/importer"
	appLog "icalsync/internal/log"
	"icalsync/internal/model"
	"icalsync/internal/store"
	"icalsync/internal/web"
)

type flagConfig struct {
	configPath    string
	listen        string
	once          bool
	dry           bool
	configuration int64
}

func main() {
	appLog.Info("icalsync starting", "version", "0.1.0-dev")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"database", conf.Database,
		"cache_dir", conf.CacheDir,
		"sync", conf.SyncCron,
		"retention_days", conf.RetentionDays,
		"directory", conf.Directory.BaseURL,
		"once", flags.once,
		"dry", flags.dry,
	)

	st, err := store.Open(conf.Database)
	if err != nil {
		appLog.Error("failed to open database", err, "database", conf.Database)
		os.Exit(1)
	}
	defer st.Close()

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	app := &application{
		conf:    conf,
		store:   st,
		fetcher: ics.NewFetcher(conf.CacheDir),
		client:  directoryClient(ctx, conf),
		dry:     flags.dry,
	}

	if flags.once {
		app.syncAll(ctx, flags.configuration)
		return
	}

	// Background scheduler: periodic sync passes plus a daily run cleanup.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(conf.SyncCron, func() {
		app.syncAll(ctx, flags.configuration)
	}); err != nil {
		appLog.Error("invalid sync schedule", err, "sync", conf.SyncCron)
		os.Exit(1)
	}
	if conf.RetentionDays > 0 {
		if _, err := scheduler.AddFunc("30 3 * * *", func() {
			app.cleanup(ctx)
		}); err != nil {
			appLog.Error("failed to register cleanup job", err)
			os.Exit(1)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP API.
	server := &http.Server{
		Addr:    conf.Listen,
		Handler: web.NewServer(conf, st, app.fetcher).Handler(),
	}
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP server shutdown failed", err)
	}
	appLog.Info("icalsync exiting")
}

// application ties together the stores and clients one sync pass needs.
type application struct {
	conf    *config.Config
	store   *store.Store
	fetcher *ics.Fetcher
	client  *directory.Client
	dry     bool
}

// syncAll runs one pass per configuration, or only the selected one if
// configurationID is non-zero. Pass failures are already contained inside
// Perform; configuration-level store errors are logged and skipped.
func (a *application) syncAll(ctx context.Context, configurationID int64) {
	configurations, err := a.store.ListConfigurations(ctx)
	if err != nil {
		appLog.Error("failed to list configurations", err)
		return
	}

	for i := range configurations {
		cfg := &configurations[i]
		if configurationID != 0 && cfg.ID != configurationID {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		a.syncOne(ctx, cfg)
	}
}

// syncOne performs one reconciliation pass and persists the run and the
// updated correlation records. Dry passes persist nothing.
func (a *application) syncOne(ctx context.Context, cfg *model.Configuration) {
	records, err := a.store.Correlations(ctx, cfg.ID)
	if err != nil {
		appLog.Error("failed to load correlations", err, "configuration_id", cfg.ID)
		return
	}

	api := directory.NewAPI(a.client, cfg.OrganizationID)
	imp := importer.New(a.fetcher, api, a.dry)
	result := imp.Perform(ctx, cfg, records)

	if a.dry {
		return
	}

	if err := a.store.ReplaceCorrelations(ctx, cfg.ID, result.Correlations); err != nil {
		appLog.Error("failed to save correlations", err, "configuration_id", cfg.ID)
	}
	if err := a.store.SaveRun(ctx, result.Run); err != nil {
		appLog.Error("failed to save run", err, "configuration_id", cfg.ID)
	}
}

// cleanup deletes runs older than the retention window.
func (a *application) cleanup(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.conf.RetentionDays)
	n, err := a.store.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		appLog.Error("run cleanup failed", err)
		return
	}
	if n > 0 {
		appLog.Info("run cleanup finished", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
	}
}

// directoryClient builds the directory HTTP client from the configured
// OAuth credentials. Without credentials it falls back to a plain client,
// which is enough for anonymous read access in development.
func directoryClient(ctx context.Context, conf *config.Config) *directory.Client {
	oc := conf.Directory.OAuth

	switch {
	case oc.ClientID != "" && oc.TokenURL != "":
		ocfg := &oauth2.Config{
			ClientID:     oc.ClientID,
			ClientSecret: oc.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: oc.TokenURL},
		}
		token := &oauth2.Token{
			AccessToken:  oc.AccessToken,
			RefreshToken: oc.RefreshToken,
		}
		if oc.RefreshToken != "" {
			// Unknown access token lifetime: refresh on first use.
			token.Expiry = time.Now().Add(-time.Minute)
		}
		return directory.NewOAuthClient(ctx, conf.Directory.BaseURL, ocfg.TokenSource(ctx, token))

	case oc.AccessToken != "":
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: oc.AccessToken})
		return directory.NewOAuthClient(ctx, conf.Directory.BaseURL, src)

	default:
		return directory.NewClient(conf.Directory.BaseURL, nil)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/icalsync/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync pass over all configurations and exit")
	flag.BoolVar(&cfg.dry, "dry", false, "Do not call the directory or persist anything; log what would happen")
	flag.Int64Var(&cfg.configuration, "configuration", 0, "Sync only this configuration id (0 = all)")

	flag.Parse()

	return cfg
}
