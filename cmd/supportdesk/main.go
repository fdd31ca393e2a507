// Package main provides the supportdesk entry point.
//
// Usage:
//
//	supportdesk customer [--serial LM1234] [--model X1]
//	supportdesk staff [--staff-id Kim] [--port 37810]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"github.com/thebtf/supportdesk/internal/api"
	"github.com/thebtf/supportdesk/internal/assign"
	"github.com/thebtf/supportdesk/internal/config"
	"github.com/thebtf/supportdesk/internal/content"
	gormdb "github.com/thebtf/supportdesk/internal/db/gorm"
	"github.com/thebtf/supportdesk/internal/db/sqlite"
	"github.com/thebtf/supportdesk/internal/directory"
	"github.com/thebtf/supportdesk/internal/notices"
	"github.com/thebtf/supportdesk/internal/presence"
	"github.com/thebtf/supportdesk/internal/remote"
	"github.com/thebtf/supportdesk/internal/session"
	"github.com/thebtf/supportdesk/internal/watcher"
	"github.com/thebtf/supportdesk/pkg/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

type options struct {
	serial  string
	model   string
	staffID string
	dataDB  string
	port    int
	debug   bool
	noStdin bool
}

func main() {
	opts := options{}
	flags := pflag.NewFlagSet("supportdesk", pflag.ExitOnError)
	flags.StringVar(&opts.serial, "serial", "", "Customer serial number (skips device detection)")
	flags.StringVar(&opts.model, "model", "", "Device model reported with --serial")
	flags.StringVar(&opts.staffID, "staff-id", "", "Staff id (overrides SUPPORTDESK_STAFF_ID)")
	flags.StringVar(&opts.dataDB, "db", "", "Local cache path (overrides SUPPORTDESK_DB_PATH)")
	flags.IntVarP(&opts.port, "port", "p", 0, "Staff API port (overrides SUPPORTDESK_API_PORT)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&opts.noStdin, "no-console", false, "Do not read chat input from stdin")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: supportdesk customer|staff [flags]\n\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}
	mode := flags.Arg(0)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	applyFlags(cfg, opts)
	setLogLevel(cfg.LogLevel, opts.debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A settings change ends the process so a supervisor restarts it with
	// the new values.
	var restart atomic.Bool
	settingsWatcher := watchSettings(func() {
		restart.Store(true)
		stop()
	})
	if settingsWatcher != nil {
		defer settingsWatcher.Stop()
	}

	d, err := open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer d.Close()

	switch mode {
	case "customer":
		err = runCustomer(ctx, cfg, d, opts)
	case "staff":
		err = runStaff(ctx, cfg, d, opts)
	default:
		flags.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Str("mode", mode).Msg("Exited with error")
		os.Exit(1)
	}
	if restart.Load() {
		log.Info().Msg("Settings changed, exiting for restart")
	}
}

func applyFlags(cfg *config.Config, opts options) {
	if opts.staffID != "" {
		cfg.StaffID = opts.staffID
	}
	if opts.dataDB != "" {
		cfg.DBPath = opts.dataDB
	}
	if opts.port > 0 {
		cfg.APIPort = opts.port
	}
}

func setLogLevel(level string, debug bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// deps holds the stores shared by both modes.
type deps struct {
	api     remote.API
	cache   *sqlite.Store
	archive *gormdb.Store
	notices *notices.Catalog
}

func open(cfg *config.Config) (*deps, error) {
	d := &deps{api: remote.Disabled{}}
	if cfg.RemoteEnabled() {
		d.api = remote.NewClient(remote.Config{
			URL:        cfg.StoreURL,
			MaxRetries: cfg.MaxRetries,
			Timeout:    cfg.Timeout(),
			BaseDelay:  cfg.RetryBaseDelay(),
		})
	} else {
		log.Warn().Msg("Remote store disabled, running local-only")
	}

	cache, err := sqlite.New(sqlite.Config{Path: cfg.ResolvedDBPath()})
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}
	d.cache = cache

	if cfg.ArchiveDSN != "" {
		archive, err := gormdb.NewStore(gormdb.Config{DSN: cfg.ArchiveDSN, LogLevel: logger.Silent})
		if err != nil {
			log.Warn().Err(err).Msg("History archive unavailable")
		} else {
			d.archive = archive
		}
	}

	cat, err := notices.Load(cfg.ResolvedNoticesPath())
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.ResolvedNoticesPath()).Msg("Invalid notice catalog, using built-in texts")
		cat = notices.Default()
	}
	d.notices = cat
	return d, nil
}

func (d *deps) Close() {
	if d.archive != nil {
		if err := d.archive.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close history archive")
		}
	}
	if err := d.cache.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close local cache")
	}
}

func (d *deps) managerOptions(cfg *config.Config, role session.Role) []session.Option {
	opts := []session.Option{
		session.WithConfig(session.Config{
			Role:              role,
			ClientVersion:     Version,
			StaffID:           cfg.StaffID,
			SyncInterval:      cfg.SyncInterval(),
			HeartbeatInterval: cfg.HeartbeatInterval(),
		}),
		session.WithCache(d.cache),
		session.WithJournal(d.cache),
		session.WithArchive(d.cache),
		session.WithNotices(d.notices),
		session.WithPolicy(content.Policy{MaxLength: cfg.MaxMessageLength}),
	}
	if d.archive != nil {
		opts = append(opts, session.WithArchive(gormdb.NewHistoryStore(d.archive)))
	}
	return opts
}

func runCustomer(ctx context.Context, cfg *config.Config, d *deps, opts options) error {
	mgr := session.New(d.api, d.managerOptions(cfg, session.RoleCustomer)...)
	defer mgr.Close()

	g, ctx := errgroup.WithContext(ctx)
	start := func(serial, model string) {
		rec, err := mgr.StartOrResume(ctx, serial, model)
		if err != nil {
			log.Error().Err(err).Str("customer", serial).Msg("Failed to start session")
			return
		}
		log.Info().Str("sessionId", rec.SessionID).Str("status", string(rec.Status)).Msg("Session ready")
	}

	if opts.serial != "" {
		start(opts.serial, opts.model)
	} else {
		scanner := presence.NewScanner(cfg.DeviceRoots, func(dev presence.Device) {
			log.Info().Str("serial", dev.SerialNumber).Str("model", dev.Model).Str("path", dev.InstallPath).Msg("Device detected")
			start(dev.SerialNumber, dev.Model)
		})
		g.Go(func() error { return scanner.Run(ctx) })
	}

	g.Go(func() error { return mgr.Run(ctx) })
	events, unsubscribe := mgr.Subscribe()
	defer unsubscribe()
	g.Go(func() error { return printEvents(ctx, os.Stdout, events) })
	if !opts.noStdin {
		g.Go(func() error { return readConsole(ctx, os.Stdin, mgr, models.MessageTypeUser) })
	}

	err := g.Wait()
	if mgr.SyncNow(context.WithoutCancel(ctx)) {
		log.Debug().Msg("Final sync before exit")
	}
	return err
}

func runStaff(ctx context.Context, cfg *config.Config, d *deps, opts options) error {
	if cfg.StaffID == "" {
		return fmt.Errorf("staff mode needs --staff-id or %s", config.KeyStaffID)
	}

	var server *api.Server
	dir := directory.New(d.api,
		directory.WithInterval(cfg.DirectoryRefresh()),
		directory.WithGrouping(cfg.GroupByCustomer),
		directory.WithCache(d.cache),
		directory.WithOnRefresh(func(snap directory.Snapshot) {
			if server != nil {
				server.PublishDirectory(snap)
			}
		}),
	)
	coord := assign.New(d.api, assign.WithRefresher(dir), assign.WithNotices(d.notices))

	mgr := session.New(d.api, append(d.managerOptions(cfg, session.RoleStaff), session.WithClaimer(coord))...)
	defer mgr.Close()

	server = api.New(dir, coord,
		api.WithStaffID(cfg.StaffID),
		api.WithVersion(Version),
		api.WithOnSelect(func(ctx context.Context, rec models.SessionRecord, _ models.AssignmentResult) {
			if err := mgr.Attach(ctx, rec); err != nil {
				log.Error().Err(err).Str("sessionId", rec.SessionID).Msg("Failed to open selected session")
			}
		}),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dir.Run(ctx) })
	g.Go(func() error { return mgr.Run(ctx) })
	g.Go(func() error {
		return server.ListenAndServe(ctx, fmt.Sprintf("127.0.0.1:%d", cfg.APIPort))
	})

	forward, unsubscribe := mgr.Subscribe()
	defer unsubscribe()
	g.Go(func() error { return server.Forward(ctx, forward) })

	if !opts.noStdin {
		printed, unsubscribePrint := mgr.Subscribe()
		defer unsubscribePrint()
		g.Go(func() error { return printEvents(ctx, os.Stdout, printed) })
		g.Go(func() error { return readConsole(ctx, os.Stdin, mgr, models.MessageTypeStaff) })
	}
	return g.Wait()
}

func watchSettings(onChange func()) *watcher.Watcher {
	w, err := watcher.New(config.SettingsPath(), func(ch watcher.Change) {
		log.Info().Str("path", ch.Path).Bool("removed", ch.Removed).Msg("Settings file changed")
		onChange()
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create settings watcher")
		return nil
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start settings watcher")
		return nil
	}
	return w
}
