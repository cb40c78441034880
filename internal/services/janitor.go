package services

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/krittin/examscan/internal/logger"
	"github.com/krittin/examscan/internal/store"
)

// Janitor runs the hourly housekeeping passes: expiring stale sessions
// and pruning the event log.
type Janitor struct {
	store         *store.Store
	retentionDays int
	cron          *cron.Cron
}

func NewJanitor(st *store.Store, retentionDays int) *Janitor {
	return &Janitor{
		store:         st,
		retentionDays: retentionDays,
		cron:          cron.New(),
	}
}

func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc("@hourly", j.RunOnce); err != nil {
		return fmt.Errorf("failed to schedule janitor: %w", err)
	}
	j.cron.Start()
	logger.Infof("Janitor started (hourly, %d day event retention)", j.retentionDays)
	return nil
}

func (j *Janitor) Stop() {
	j.cron.Stop()
}

// RunOnce performs one housekeeping pass. Exposed so startup and tests
// can trigger it directly.
func (j *Janitor) RunOnce() {
	j.expireSessions(store.LoginSessions)
	j.expireSessions(store.SignupSessions)
	j.pruneEvents()
}

// expireSessions flags sessions past their expiration as unavailable so
// every later lookup can filter on is_available alone.
func (j *Janitor) expireSessions(collection string) {
	n, err := j.store.Update(collection, []store.Condition{
		store.Where("is_available", "==", true),
		store.Where("expiration_at", "<", time.Now()),
	}, map[string]interface{}{
		"is_available": false,
	})
	if err != nil {
		logger.Errorf("Janitor: failed to expire %s: %v", collection, err)
		return
	}
	if n > 0 {
		logger.Infof("Janitor: expired %d %s", n, collection)
	}
}

func (j *Janitor) pruneEvents() {
	cutoff := time.Now().UTC().AddDate(0, 0, -j.retentionDays)
	res, err := store.ExecWithRetry(j.store.DB, "DELETE FROM events WHERE created_at < ?", cutoff)
	if err != nil {
		logger.Errorf("Janitor: failed to prune events: %v", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		logger.Infof("Janitor: pruned %d old events", n)
	}
}
