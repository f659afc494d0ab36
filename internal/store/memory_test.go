package store

import (
	"errors"
	"testing"
	"time"

	"github.com/voxprep/VoxPrep/internal/models"
)

func TestInMemoryUserIdentity(t *testing.T) {
	st := NewInMemoryStore()

	got, err := st.GetUserIdentity("u1")
	if err != nil {
		t.Fatalf("GetUserIdentity failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown user, got %+v", got)
	}

	identity := models.UserIdentity{ID: "u1", Email: "ana@example.com", FirstName: "Ana", Phone: "+15551234567"}
	if err := st.SaveUserIdentity(identity); err != nil {
		t.Fatalf("SaveUserIdentity failed: %v", err)
	}

	got, err = st.GetUserIdentity("u1")
	if err != nil {
		t.Fatalf("GetUserIdentity failed: %v", err)
	}
	if got == nil || *got != identity {
		t.Errorf("expected %+v, got %+v", identity, got)
	}
}

func TestInMemoryEntitlementLifecycle(t *testing.T) {
	st := NewInMemoryStore()

	e, err := st.GetEntitlement("u1", "agent-visa")
	if err != nil {
		t.Fatalf("GetEntitlement failed: %v", err)
	}
	if e != nil {
		t.Errorf("expected nil for missing entitlement, got %+v", e)
	}

	if err := st.SaveEntitlement(models.Entitlement{UserID: "u1", AgentID: "agent-visa", PurchaseUnits: 10}); err != nil {
		t.Fatalf("SaveEntitlement failed: %v", err)
	}

	e, err = st.GetEntitlement("u1", "agent-visa")
	if err != nil {
		t.Fatalf("GetEntitlement failed: %v", err)
	}
	if e == nil || e.PurchaseUnits != 10 {
		t.Fatalf("expected 10 units, got %+v", e)
	}
	if e.UpdatedAt.IsZero() {
		t.Error("SaveEntitlement must stamp UpdatedAt")
	}

	// Entitlements are per-agent: the other agent's balance is independent.
	e, err = st.GetEntitlement("u1", "agent-healthcare")
	if err != nil {
		t.Fatalf("GetEntitlement failed: %v", err)
	}
	if e != nil {
		t.Errorf("expected nil for the other agent, got %+v", e)
	}
}

func TestInMemoryDeductEntitlement(t *testing.T) {
	st := NewInMemoryStore()
	if err := st.SaveEntitlement(models.Entitlement{UserID: "u1", AgentID: "a", PurchaseUnits: 3}); err != nil {
		t.Fatalf("SaveEntitlement failed: %v", err)
	}

	applied, err := st.DeductEntitlement("u1", "a", 2)
	if err != nil {
		t.Fatalf("DeductEntitlement failed: %v", err)
	}
	if !applied {
		t.Fatal("expected deduction to apply")
	}
	e, _ := st.GetEntitlement("u1", "a")
	if e.PurchaseUnits != 1 {
		t.Errorf("expected 1 unit remaining, got %d", e.PurchaseUnits)
	}

	// Insufficient balance refuses without changing anything.
	applied, err = st.DeductEntitlement("u1", "a", 2)
	if err != nil {
		t.Fatalf("DeductEntitlement failed: %v", err)
	}
	if applied {
		t.Error("deduction must not apply past the balance")
	}
	e, _ = st.GetEntitlement("u1", "a")
	if e.PurchaseUnits != 1 {
		t.Errorf("refused deduction must leave the balance at 1, got %d", e.PurchaseUnits)
	}

	// Missing row refuses without error.
	applied, err = st.DeductEntitlement("nobody", "a", 1)
	if err != nil {
		t.Fatalf("DeductEntitlement failed: %v", err)
	}
	if applied {
		t.Error("deduction against a missing row must not apply")
	}

	if _, err := st.DeductEntitlement("u1", "a", 0); !errors.Is(err, models.ErrInvalidDeductAmount) {
		t.Errorf("expected ErrInvalidDeductAmount, got %v", err)
	}
}

func TestInMemoryIntakeRecord(t *testing.T) {
	st := NewInMemoryStore()

	rec, err := st.GetIntakeRecord("u1")
	if err != nil {
		t.Fatalf("GetIntakeRecord failed: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for missing record, got %+v", rec)
	}

	in := models.IntakeRecord{
		Flow:               models.FlowVisa,
		Name:               "Ana",
		VisaType:           "H-1B",
		OriginCountry:      "Brazil",
		DestinationCountry: "United States",
	}
	if err := st.SaveIntakeRecord("u1", in); err != nil {
		t.Fatalf("SaveIntakeRecord failed: %v", err)
	}

	rec, err = st.GetIntakeRecord("u1")
	if err != nil {
		t.Fatalf("GetIntakeRecord failed: %v", err)
	}
	if rec == nil || rec.Name != "Ana" || rec.VisaType != "H-1B" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("SaveIntakeRecord must stamp UpdatedAt")
	}

	// Overwrite in place.
	in.VisaType = "B-2"
	if err := st.SaveIntakeRecord("u1", in); err != nil {
		t.Fatalf("SaveIntakeRecord failed: %v", err)
	}
	rec, _ = st.GetIntakeRecord("u1")
	if rec.VisaType != "B-2" {
		t.Errorf("expected overwritten visa type B-2, got %q", rec.VisaType)
	}

	if err := st.DeleteIntakeRecord("u1"); err != nil {
		t.Fatalf("DeleteIntakeRecord failed: %v", err)
	}
	rec, _ = st.GetIntakeRecord("u1")
	if rec != nil {
		t.Errorf("expected nil after delete, got %+v", rec)
	}

	// Deleting a missing record is not an error.
	if err := st.DeleteIntakeRecord("u1"); err != nil {
		t.Errorf("deleting a missing record errored: %v", err)
	}
}

func TestInMemorySessionFlags(t *testing.T) {
	st := NewInMemoryStore()

	flags, err := st.GetSessionFlags("u1")
	if err != nil {
		t.Fatalf("GetSessionFlags failed: %v", err)
	}
	if flags.UserID != "u1" {
		t.Errorf("zero-value flags must carry the user ID, got %q", flags.UserID)
	}
	if flags.HasStartedInterview || flags.InterviewCompleted {
		t.Errorf("expected zero-value flags, got %+v", flags)
	}

	flags.HasStartedInterview = true
	flags.DisableAutoRedirect = true
	if err := st.SaveSessionFlags(flags); err != nil {
		t.Fatalf("SaveSessionFlags failed: %v", err)
	}

	flags, _ = st.GetSessionFlags("u1")
	if !flags.HasStartedInterview || !flags.DisableAutoRedirect {
		t.Errorf("saved flags not returned: %+v", flags)
	}

	if err := st.ClearSessionFlags("u1"); err != nil {
		t.Fatalf("ClearSessionFlags failed: %v", err)
	}
	flags, _ = st.GetSessionFlags("u1")
	if flags.HasStartedInterview {
		t.Errorf("expected cleared flags, got %+v", flags)
	}
}

func TestInMemorySessions(t *testing.T) {
	st := NewInMemoryStore()

	sess, err := st.GetSession("s_missing")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil for missing session, got %+v", sess)
	}

	in := models.InterviewSession{
		ID:      "s_1",
		UserID:  "u1",
		AgentID: "agent-visa",
		Flow:    models.FlowVisa,
		Stage:   models.StageIntro,
		Status:  models.SessionStatusActive,
	}
	if err := st.SaveSession(in); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	sess, err = st.GetSession("s_1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess == nil || sess.UserID != "u1" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.UpdatedAt.IsZero() {
		t.Error("SaveSession must stamp UpdatedAt")
	}

	active, err := st.GetActiveSessionForUser("u1")
	if err != nil {
		t.Fatalf("GetActiveSessionForUser failed: %v", err)
	}
	if active == nil || active.ID != "s_1" {
		t.Fatalf("expected active session s_1, got %+v", active)
	}

	in.Status = models.SessionStatusCompleted
	if err := st.SaveSession(in); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	active, _ = st.GetActiveSessionForUser("u1")
	if active != nil {
		t.Errorf("completed session must not be returned as active, got %+v", active)
	}
}

func TestInMemoryListActiveSessionsBefore(t *testing.T) {
	st := NewInMemoryStore()

	for _, s := range []models.InterviewSession{
		{ID: "s_stale", UserID: "u1", Status: models.SessionStatusActive},
		{ID: "s_done", UserID: "u2", Status: models.SessionStatusCompleted},
	} {
		if err := st.SaveSession(s); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	// Both saves stamped UpdatedAt just now; a future cutoff catches the
	// active one only.
	stale, err := st.ListActiveSessionsBefore(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ListActiveSessionsBefore failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "s_stale" {
		t.Errorf("expected only s_stale, got %+v", stale)
	}

	// A past cutoff catches nothing.
	stale, err = st.ListActiveSessionsBefore(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListActiveSessionsBefore failed: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("expected no sessions before a past cutoff, got %+v", stale)
	}
}

func TestInMemoryUsageEvents(t *testing.T) {
	st := NewInMemoryStore()

	events, err := st.GetUsageEvents("u1")
	if err != nil {
		t.Fatalf("GetUsageEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}

	for i, ev := range []models.UsageEvent{
		{ID: "u_1", UserID: "u1", AgentID: "a", SessionID: "s_1", MinutesUsed: 2, Time: time.Now()},
		{ID: "u_2", UserID: "u2", AgentID: "a", SessionID: "s_2", MinutesUsed: 1, Time: time.Now()},
		{ID: "u_3", UserID: "u1", AgentID: "a", SessionID: "s_3", MinutesUsed: 4, Time: time.Now()},
	} {
		if err := st.AddUsageEvent(ev); err != nil {
			t.Fatalf("AddUsageEvent %d failed: %v", i, err)
		}
	}

	events, err = st.GetUsageEvents("u1")
	if err != nil {
		t.Fatalf("GetUsageEvents failed: %v", err)
	}
	if len(events) != 2 || events[0].ID != "u_1" || events[1].ID != "u_3" {
		t.Errorf("expected u1's events in insertion order, got %+v", events)
	}
}
