package membership

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/meridianerp/entitlements/pkg/observability"
)

// Warmer periodically refreshes expired tenant snapshots in the background so
// interactive reads rarely pay for a rebuild. It only touches caches whose
// TTL already elapsed; fresh snapshots are left alone.
type Warmer struct {
	cron   *cron.Cron
	caches *TenantCaches
	log    *observability.Logger
}

// NewWarmer schedules background refreshes. The schedule uses standard cron
// syntax, e.g. "*/10 * * * *" for every ten minutes.
func NewWarmer(schedule string, caches *TenantCaches, log *observability.Logger) (*Warmer, error) {
	if log == nil {
		log = observability.NopLogger()
	}
	w := &Warmer{
		cron:   cron.New(),
		caches: caches,
		log:    log,
	}
	if _, err := w.cron.AddFunc(schedule, w.tick); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Warmer) tick() {
	w.caches.RefreshExpired(context.Background())
}

// Start begins the schedule.
func (w *Warmer) Start() {
	w.cron.Start()
	w.log.Info("snapshot warmer started")
}

// Stop halts the schedule and waits for a running tick to finish.
func (w *Warmer) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.log.Info("snapshot warmer stopped")
}
