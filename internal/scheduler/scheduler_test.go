package scheduler

import "testing"

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	id, err := s.AddJob("*/5 * * * *", func() {})
	if err != nil {
		t.Fatalf("expected no error adding job, got %v", err)
	}
	if s.JobCount() != 1 {
		t.Errorf("expected 1 job, got %d", s.JobCount())
	}

	s.RemoveJob(id)
	if s.JobCount() != 0 {
		t.Errorf("expected 0 jobs after removal, got %d", s.JobCount())
	}
}

func TestSchedulerRejectsInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if _, err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}
