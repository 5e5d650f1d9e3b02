package app

import (
	"context"
	"sync"
	"time"

	"beepbot/internal/eventbus"
	"beepbot/internal/notifier"
	"beepbot/internal/pipeline"
	"beepbot/internal/runtime/supervisor"
	"beepbot/internal/window"
	logx "beepbot/pkg/logx"
)

const defaultReportEvery = time.Minute

// observer drains the event bus. Failures surface as warnings when they
// happen; everything else is counted, and a periodic report rolls the
// counters up together with the conversation, goroutine, and recent
// alert gauges.
type observer struct {
	log     logx.Logger
	bus     eventbus.Bus
	windows *window.Store
	notif   *notifier.Service
	sup     *supervisor.Supervisor

	reportEvery time.Duration

	mu     sync.Mutex
	counts map[string]uint64
}

func newObserver(log logx.Logger, bus eventbus.Bus, windows *window.Store, notif *notifier.Service) *observer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &observer{
		log:         log,
		bus:         bus,
		windows:     windows,
		notif:       notif,
		reportEvery: defaultReportEvery,
		counts:      map[string]uint64{},
	}
}

func (o *observer) run(ctx context.Context) {
	ev, unsub := o.bus.Subscribe(64)
	defer unsub()
	tick := time.NewTicker(o.reportEvery)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ev:
			if !ok {
				return
			}
			o.observe(e)
		case <-tick.C:
			o.report()
		}
	}
}

func (o *observer) observe(e eventbus.Event) {
	o.mu.Lock()
	o.counts[e.Type]++
	o.mu.Unlock()

	switch e.Type {
	case "cycle.failed":
		if d, ok := e.Data.(pipeline.CycleEvent); ok {
			o.log.Warn("scoring cycle failed",
				logx.String("conversation", d.Key), logx.String("err", d.Error))
		}
	case "notify.failed":
		if d, ok := e.Data.(notifier.DeliveryEvent); ok {
			o.log.Warn("alert delivery failed",
				logx.String("user", d.UserID), logx.String("err", d.Error))
		}
	default:
		o.log.Debug("event", logx.String("type", e.Type))
	}
}

func (o *observer) snapshotCounts() map[string]uint64 {
	o.mu.Lock()
	out := make(map[string]uint64, len(o.counts))
	for k, v := range o.counts {
		out[k] = v
	}
	o.mu.Unlock()
	return out
}

func (o *observer) report() {
	fields := []logx.Field{logx.Any("events", o.snapshotCounts())}
	if o.windows != nil {
		fields = append(fields, logx.Int("conversations", o.windows.Keys()))
	}
	if o.notif != nil {
		fields = append(fields, logx.Int("recent_alerts", len(o.notif.Snapshot())))
	}
	if o.sup != nil {
		fields = append(fields, logx.Int64("goroutines", o.sup.Counters().Active))
	}
	o.log.Info("pipeline report", fields...)
}
