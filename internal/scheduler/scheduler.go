// Package scheduler provides cron-based background job scheduling.
//
// VoxPrep uses it for periodic maintenance, chiefly the stale-session sweep
// that abandons interviews whose caller disappeared without ending them.
package scheduler

import (
	"github.com/robfig/cron/v3"
)

// Scheduler wraps a running cron instance.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler. It uses the standard
// 5-field expression format and recovers from panicking jobs so one bad
// sweep cannot take the process down.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task under the given cron expression and returns its
// entry ID. An invalid expression is an error.
func (s *Scheduler) AddJob(expr string, task func()) (cron.EntryID, error) {
	return s.cron.AddFunc(expr, task)
}

// RemoveJob unschedules a previously added job. Removing an unknown ID is a
// no-op.
func (s *Scheduler) RemoveJob(id cron.EntryID) {
	s.cron.Remove(id)
}

// JobCount returns the number of scheduled jobs.
func (s *Scheduler) JobCount() int {
	return len(s.cron.Entries())
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
