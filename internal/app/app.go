// Package app wires configuration, transports, scoring and the pipeline
// into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"beepbot/internal/backfill"
	"beepbot/internal/chat"
	"beepbot/internal/config"
	"beepbot/internal/eventbus"
	"beepbot/internal/ingress"
	"beepbot/internal/interest"
	"beepbot/internal/notifier"
	"beepbot/internal/pipeline"
	"beepbot/internal/prompt"
	"beepbot/internal/runtime/supervisor"
	"beepbot/internal/scoring"
	"beepbot/internal/storage"
	slacktr "beepbot/internal/transport/slack"
	"beepbot/internal/transport/telegram"
	"beepbot/internal/window"
	logx "beepbot/pkg/logx"
)

type App struct {
	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	sup *supervisor.Supervisor
	bus eventbus.Bus

	windows *window.Store
	decoder *interest.Decoder
	notif   *notifier.Service
	pipe    *pipeline.Service
	store   storage.Store

	source    chat.Source
	messenger chat.Messenger
	ingress   *ingress.Server
	cron      *cron.Cron

	idleTTL time.Duration
	msgs    chan chat.Message

	backfillPath string
}

func New(ctx context.Context, configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	mgr.SetValidator(validate)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(ctx, cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	a := &App{
		mgr:          mgr,
		logSvc:       logSvc,
		log:          log,
		bus:          eventbus.New(),
		backfillPath: cfg.Backfill.Path,
	}
	if err := a.build(ctx, cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	var catalog *interest.Catalog
	if interest.LabelMode(cfg.Interest.LabelMode) != interest.ModeDirect {
		var err error
		catalog, err = interest.LoadCatalog(cfg.Interest.CatalogPath)
		if err != nil {
			return err
		}
	}
	a.decoder = interest.NewDecoder(interest.Config{
		Threshold: cfg.Interest.Threshold,
		Mode:      interest.LabelMode(cfg.Interest.LabelMode),
		Sentinel:  cfg.Interest.Sentinel,
	}, catalog, a.log.With(logx.String("svc", "interest")))

	scoreTimeout, err := config.DurationOr("scoring.timeout", cfg.Scoring.Timeout, scoring.DefaultTimeout)
	if err != nil {
		return err
	}
	scorer, err := scoring.New(ctx, scoring.Config{
		Backend: cfg.Scoring.Backend,
		Model:   cfg.Scoring.Model,
		TopK:    cfg.Scoring.TopK,
		Timeout: scoreTimeout,
	}, a.log.With(logx.String("svc", "scoring")))
	if err != nil {
		return err
	}

	if cfg.Storage != nil {
		busy, err := config.DurationOr("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
		if err != nil {
			return err
		}
		a.store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, a.log.With(logx.String("svc", "storage")))
		if err != nil {
			return err
		}
	}

	if err := a.buildTransport(cfg); err != nil {
		return err
	}

	ncfg, err := notifierConfig(cfg.Notifier)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, a.messenger,
		a.log.With(logx.String("svc", "notifier")), a.bus, a.store)

	a.windows = window.NewStore(cfg.Window.Size)
	a.idleTTL, err = config.DurationOr("window.idle_ttl", cfg.Window.IdleTTL, 0)
	if err != nil {
		return err
	}

	builder := prompt.NewBuilder(prompt.Strategy(cfg.Prompt.Strategy), cfg.Prompt.MaxLen)
	a.pipe = pipeline.New(pipeline.Config{
		Cadence:   pipeline.Cadence(cfg.Pipeline.Cadence),
		Direction: pipeline.Direction(cfg.Pipeline.Direction),
		QueueSize: cfg.Pipeline.QueueSize,
		Workers:   cfg.Pipeline.Workers,
	}, a.windows, builder, scorer, a.decoder, a.notif,
		a.log.With(logx.String("svc", "pipeline")), a.bus)

	if cfg.Ingress.Enabled {
		a.ingress = ingress.New(ingress.Config{Addr: cfg.Ingress.Addr}, a.pipe,
			a.log.With(logx.String("svc", "ingress")))
	}

	if a.idleTTL > 0 && cfg.Window.EvictEvery != "" {
		a.cron = cron.New()
		_, err := a.cron.AddFunc(cfg.Window.EvictEvery, func() {
			if n := a.windows.EvictIdle(a.idleTTL); n > 0 {
				a.pipe.Compact()
				a.log.Info("evicted idle conversations",
					logx.Int("count", n), logx.Int("keys", a.windows.Keys()))
			}
		})
		if err != nil {
			return fmt.Errorf("window.evict_every: %w", err)
		}
	}

	a.msgs = make(chan chat.Message, 256)
	return nil
}

func (a *App) buildTransport(cfg *config.Config) error {
	switch cfg.Platform {
	case "", "slack":
		src, err := slacktr.NewSource(slacktr.Config{Debug: cfg.Slack.Debug},
			a.log.With(logx.String("svc", "slack")))
		if err != nil {
			return err
		}
		msgr, err := slacktr.NewMessenger(slacktr.Config{Debug: cfg.Slack.Debug},
			a.log.With(logx.String("svc", "slack")))
		if err != nil {
			return err
		}
		a.source, a.messenger = src, msgr
	case "telegram":
		poll, err := config.DurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0)
		if err != nil {
			return err
		}
		client, err := telegram.New(telegram.Config{PollTimeout: poll},
			a.log.With(logx.String("svc", "telegram")))
		if err != nil {
			return err
		}
		a.source, a.messenger = client, client
	default:
		return fmt.Errorf("platform %q is not supported", cfg.Platform)
	}
	return nil
}

// Start seeds backfill, then launches every service. Backfill runs to
// completion before the live source connects so historical messages can
// never trigger a scoring cycle.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("svc", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	if a.backfillPath != "" {
		msgs, err := backfill.Load(a.backfillPath, a.log.With(logx.String("svc", "backfill")))
		if err != nil {
			return err
		}
		for _, m := range msgs {
			a.pipe.Seed(m)
		}
	}

	a.pipe.Start(a.sup)

	a.sup.GoRestart("source.forward", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case m := <-a.msgs:
				a.pipe.Ingest(m)
			}
		}
	})
	if err := a.source.Start(a.sup.Context(), a.msgs); err != nil {
		return err
	}

	if a.ingress != nil {
		a.ingress.Start(a.sup)
	}
	if a.cron != nil {
		a.cron.Start()
	}

	obs := newObserver(a.log.With(logx.String("svc", "observer")), a.bus, a.windows, a.notif)
	obs.sup = a.sup
	a.sup.Go0("observer", obs.run)

	a.sup.GoRestart("config.watch", a.mgr.Watch)
	reloads := a.mgr.Subscribe(4)
	a.sup.Go0("config.reload", func(ctx context.Context) {
		defer a.mgr.Unsubscribe(reloads)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-reloads:
				a.applyReload(cfg)
			}
		}
	})

	a.log.Info("started")
	return nil
}

// applyReload pushes the reloadable subset of a fresh config into the
// running services. Structural settings (platform, model backend, queue
// sizes, storage driver) need a restart.
func (a *App) applyReload(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a.decoder.Apply(cfg.Interest.Threshold)
	a.pipe.Apply(pipeline.Cadence(cfg.Pipeline.Cadence), pipeline.Direction(cfg.Pipeline.Direction))

	if ncfg, err := notifierConfig(cfg.Notifier); err == nil {
		a.notif.Apply(ncfg)
	} else {
		a.log.Warn("reload: notifier settings rejected", logx.Err(err))
	}
	a.log.Info("configuration reloaded",
		logx.Float64("threshold", cfg.Interest.Threshold),
		logx.String("cadence", cfg.Pipeline.Cadence))
}

func (a *App) Stop(ctx context.Context) error {
	var errs []error
	if a.source != nil {
		if err := a.source.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.cron != nil {
		a.cron.Stop()
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.logSvc.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Done is closed when any supervised service fails fatally.
func (a *App) Done() <-chan struct{} { return a.sup.Context().Done() }

func (a *App) Err() error { return a.sup.Err() }

func notifierConfig(nc config.NotifierConfig) (notifier.Config, error) {
	sendTimeout, err := config.DurationOr("notifier.send_timeout", nc.SendTimeout, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	dedupWindow, err := config.DurationOr("notifier.dedup_window", nc.DedupWindow, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Workers:         nc.Workers,
		RatePerSec:      nc.RatePerSec,
		SendTimeout:     sendTimeout,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: nc.DedupMaxEntries,
		PersistDedup:    nc.PersistDedup,
		SnippetMaxLen:   nc.SnippetMaxLen,
	}, nil
}

func validate(ctx context.Context, cfg *config.Config) error {
	switch cfg.Platform {
	case "", "slack", "telegram":
	default:
		return fmt.Errorf("platform: %q is not one of slack, telegram", cfg.Platform)
	}
	if cfg.Scoring.Model == "" {
		return errors.New("scoring.model is required")
	}
	switch cfg.Scoring.Backend {
	case "", "openai", "gemini":
	default:
		return fmt.Errorf("scoring.backend: %q is not one of openai, gemini", cfg.Scoring.Backend)
	}
	if cfg.Interest.Threshold < 0 || cfg.Interest.Threshold > 1 {
		return fmt.Errorf("interest.threshold: %v is outside [0, 1]", cfg.Interest.Threshold)
	}
	switch interest.LabelMode(cfg.Interest.LabelMode) {
	case "", interest.ModeIndex:
		if cfg.Interest.CatalogPath == "" {
			return errors.New("interest.catalog_path is required in index mode")
		}
	case interest.ModeDirect:
	default:
		return fmt.Errorf("interest.label_mode: %q is not one of index, direct", cfg.Interest.LabelMode)
	}
	switch prompt.Strategy(cfg.Prompt.Strategy) {
	case "", prompt.FreeText, prompt.Structured:
	default:
		return fmt.Errorf("prompt.strategy: %q is not one of freetext, structured", cfg.Prompt.Strategy)
	}
	switch pipeline.Cadence(cfg.Pipeline.Cadence) {
	case "", pipeline.CadencePerMessage, pipeline.CadencePerWindow:
	default:
		return fmt.Errorf("pipeline.cadence: %q is not one of per_message, per_window", cfg.Pipeline.Cadence)
	}
	switch pipeline.Direction(cfg.Pipeline.Direction) {
	case "", pipeline.DirectionNewest, pipeline.DirectionOldest:
	default:
		return fmt.Errorf("pipeline.direction: %q is not one of newest, oldest", cfg.Pipeline.Direction)
	}
	if cfg.Window.Size < 0 {
		return fmt.Errorf("window.size: %d is negative", cfg.Window.Size)
	}
	return nil
}
