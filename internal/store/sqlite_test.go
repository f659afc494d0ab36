package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/voxprep/VoxPrep/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "voxprep.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Error("expected error without a DSN")
	}
}

func TestSQLiteUserIdentityRoundtrip(t *testing.T) {
	st := newTestSQLiteStore(t)

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

func TestSQLiteDeductEntitlement(t *testing.T) {
	st := newTestSQLiteStore(t)
	if err := st.SaveEntitlement(models.Entitlement{UserID: "u1", AgentID: "a", PurchaseUnits: 2}); err != nil {
		t.Fatalf("SaveEntitlement failed: %v", err)
	}

	applied, err := st.DeductEntitlement("u1", "a", 1)
	if err != nil {
		t.Fatalf("DeductEntitlement failed: %v", err)
	}
	if !applied {
		t.Fatal("expected deduction to apply")
	}

	// The conditional UPDATE refuses once the balance would go negative.
	applied, err = st.DeductEntitlement("u1", "a", 2)
	if err != nil {
		t.Fatalf("DeductEntitlement failed: %v", err)
	}
	if applied {
		t.Error("deduction past the balance must not apply")
	}

	e, err := st.GetEntitlement("u1", "a")
	if err != nil {
		t.Fatalf("GetEntitlement failed: %v", err)
	}
	if e == nil || e.PurchaseUnits != 1 {
		t.Errorf("expected 1 unit remaining, got %+v", e)
	}
}

func TestSQLiteIntakeRecordRoundtrip(t *testing.T) {
	st := newTestSQLiteStore(t)

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

	rec, err := st.GetIntakeRecord("u1")
	if err != nil {
		t.Fatalf("GetIntakeRecord failed: %v", err)
	}
	if rec == nil || rec.Name != "Ana" || rec.Flow != models.FlowVisa || rec.DestinationCountry != "United States" {
		t.Fatalf("unexpected record %+v", rec)
	}

	if err := st.DeleteIntakeRecord("u1"); err != nil {
		t.Fatalf("DeleteIntakeRecord failed: %v", err)
	}
	rec, _ = st.GetIntakeRecord("u1")
	if rec != nil {
		t.Errorf("expected nil after delete, got %+v", rec)
	}
}

func TestSQLiteSessionFlags(t *testing.T) {
	st := newTestSQLiteStore(t)

	flags, err := st.GetSessionFlags("u1")
	if err != nil {
		t.Fatalf("GetSessionFlags failed: %v", err)
	}
	if flags.UserID != "u1" || flags.HasStartedInterview {
		t.Errorf("expected zero-value flags, got %+v", flags)
	}

	flags.HasStartedInterview = true
	flags.AuthError = "expired"
	if err := st.SaveSessionFlags(flags); err != nil {
		t.Fatalf("SaveSessionFlags failed: %v", err)
	}

	flags, _ = st.GetSessionFlags("u1")
	if !flags.HasStartedInterview || flags.AuthError != "expired" {
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

func TestSQLiteSessionRoundtrip(t *testing.T) {
	st := newTestSQLiteStore(t)

	sess := models.InterviewSession{
		ID:             "s_1",
		UserID:         "u1",
		AgentID:        "agent-visa",
		Flow:           models.FlowVisa,
		Stage:          models.StagePurpose,
		Status:         models.SessionStatusActive,
		ElapsedSeconds: 42,
	}
	if err := st.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := st.GetSession("s_1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil || got.Stage != models.StagePurpose || got.ElapsedSeconds != 42 {
		t.Fatalf("unexpected session %+v", got)
	}
	if got.ConversationID != "" {
		t.Errorf("expected empty conversation ID, got %q", got.ConversationID)
	}
	if got.Analysis != nil {
		t.Errorf("expected nil analysis before scoring, got %+v", got.Analysis)
	}

	// Analysis survives the JSON column roundtrip.
	sess.Status = models.SessionStatusCompleted
	sess.Stage = models.StageComplete
	sess.ConversationID = "conv-1"
	sess.Analysis = &models.FeedbackRecord{Score: 7, Comment: "Solid.", FullAnalysis: "raw", DetailedFeedback: "detail"}
	if err := st.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err = st.GetSession("s_1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.ConversationID != "conv-1" {
		t.Errorf("expected conversation ID conv-1, got %q", got.ConversationID)
	}
	if got.Analysis == nil || got.Analysis.Score != 7 || got.Analysis.Comment != "Solid." {
		t.Errorf("analysis did not roundtrip: %+v", got.Analysis)
	}

	active, err := st.GetActiveSessionForUser("u1")
	if err != nil {
		t.Fatalf("GetActiveSessionForUser failed: %v", err)
	}
	if active != nil {
		t.Errorf("completed session must not be returned as active, got %+v", active)
	}
}

func TestSQLiteListActiveSessionsBefore(t *testing.T) {
	st := newTestSQLiteStore(t)

	for _, s := range []models.InterviewSession{
		{ID: "s_active", UserID: "u1", AgentID: "a", Flow: models.FlowVisa, Stage: models.StageIntro, Status: models.SessionStatusActive},
		{ID: "s_done", UserID: "u2", AgentID: "a", Flow: models.FlowVisa, Stage: models.StageComplete, Status: models.SessionStatusCompleted},
	} {
		if err := st.SaveSession(s); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	stale, err := st.ListActiveSessionsBefore(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ListActiveSessionsBefore failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "s_active" {
		t.Errorf("expected only s_active, got %+v", stale)
	}
}

func TestSQLiteUsageEvents(t *testing.T) {
	st := newTestSQLiteStore(t)

	ev := models.UsageEvent{ID: "u_1", UserID: "u1", AgentID: "a", SessionID: "s_1", MinutesUsed: 2, Time: time.Now()}
	if err := st.AddUsageEvent(ev); err != nil {
		t.Fatalf("AddUsageEvent failed: %v", err)
	}

	events, err := st.GetUsageEvents("u1")
	if err != nil {
		t.Fatalf("GetUsageEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].MinutesUsed != 2 || events[0].SessionID != "s_1" {
		t.Errorf("unexpected events %+v", events)
	}
}
