// Package retention runs the scheduled purge of old sync events.
package retention

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marcus/tablehub/internal/store"
)

// Sweeper deletes sync events older than the retention window on a daily
// schedule. Events are create-only otherwise; this is the single place the
// log shrinks, and it only runs when retention is explicitly configured.
type Sweeper struct {
	store store.Store
	days  int
	cron  *cron.Cron
}

// New creates a Sweeper purging events older than days. A non-positive days
// yields a Sweeper whose Start is a no-op.
func New(st store.Store, days int) *Sweeper {
	return &Sweeper{store: st, days: days, cron: cron.New()}
}

// Start schedules the daily purge and runs one sweep immediately so a
// long-stopped server catches up on restart.
func (s *Sweeper) Start() error {
	if s.days <= 0 {
		return nil
	}
	if _, err := s.cron.AddFunc("@daily", s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	go s.sweep()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().AddDate(0, 0, -s.days)
	n, err := s.store.PurgeEventsBefore(cutoff)
	if err != nil {
		slog.Error("retention sweep", "err", err)
		return
	}
	if n > 0 {
		slog.Info("retention sweep", "purged", n, "cutoff", cutoff.Format(time.RFC3339))
	}
}
