package entitlement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxprep/VoxPrep/internal/models"
	"github.com/voxprep/VoxPrep/internal/store"
)

// countingStore wraps an InMemoryStore and counts entitlement reads so tests
// can observe singleflight coalescing.
type countingStore struct {
	store.Store
	reads   atomic.Int64
	readGte chan struct{} // closed externally to release in-flight reads
}

func (c *countingStore) GetEntitlement(userID, agentID string) (*models.Entitlement, error) {
	c.reads.Add(1)
	if c.readGte != nil {
		<-c.readGte
	}
	return c.Store.GetEntitlement(userID, agentID)
}

// failingStore returns an error from every entitlement operation.
type failingStore struct {
	store.Store
}

var errStoreDown = errors.New("store down")

func (failingStore) GetEntitlement(userID, agentID string) (*models.Entitlement, error) {
	return nil, errStoreDown
}

func (failingStore) DeductEntitlement(userID, agentID string, amount int) (bool, error) {
	return false, errStoreDown
}

func seedBalance(t *testing.T, st store.Store, userID, agentID string, units int) {
	t.Helper()
	err := st.SaveEntitlement(models.Entitlement{
		UserID:        userID,
		AgentID:       agentID,
		PurchaseUnits: units,
		UpdatedAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveEntitlement failed: %v", err)
	}
}

func TestGetMinutes(t *testing.T) {
	st := store.NewInMemoryStore()
	seedBalance(t, st, "u1", "agent-visa", 12)
	g := NewGateway(st)

	minutes, err := g.GetMinutes(context.Background(), "u1", "agent-visa")
	if err != nil {
		t.Fatalf("GetMinutes failed: %v", err)
	}
	if minutes != 12 {
		t.Errorf("expected 12 minutes, got %d", minutes)
	}
}

func TestGetMinutesMissingRowReadsZero(t *testing.T) {
	g := NewGateway(store.NewInMemoryStore())

	minutes, err := g.GetMinutes(context.Background(), "nobody", "agent-visa")
	if err != nil {
		t.Fatalf("missing entitlement must not error: %v", err)
	}
	if minutes != 0 {
		t.Errorf("expected 0 minutes, got %d", minutes)
	}
}

func TestGetMinutesValidation(t *testing.T) {
	g := NewGateway(store.NewInMemoryStore())

	if _, err := g.GetMinutes(context.Background(), "", "agent-visa"); !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
	if _, err := g.GetMinutes(context.Background(), "u1", ""); !errors.Is(err, models.ErrEmptyAgentID) {
		t.Errorf("expected ErrEmptyAgentID, got %v", err)
	}
}

func TestGetMinutesStoreErrorSurfaces(t *testing.T) {
	g := NewGateway(failingStore{Store: store.NewInMemoryStore()})

	_, err := g.GetMinutes(context.Background(), "u1", "agent-visa")
	if !errors.Is(err, errStoreDown) {
		t.Errorf("expected wrapped store error, got %v", err)
	}
}

func TestGetMinutesCoalescesConcurrentReads(t *testing.T) {
	inner := store.NewInMemoryStore()
	seedBalance(t, inner, "u1", "agent-visa", 5)
	cs := &countingStore{Store: inner, readGte: make(chan struct{})}
	g := NewGateway(cs)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := g.GetMinutes(context.Background(), "u1", "agent-visa")
			if err != nil {
				t.Errorf("GetMinutes failed: %v", err)
				return
			}
			results[i] = m
		}(i)
	}

	// Let the goroutines pile onto the in-flight read, then release it.
	time.Sleep(50 * time.Millisecond)
	close(cs.readGte)
	wg.Wait()

	for i, m := range results {
		if m != 5 {
			t.Errorf("caller %d got %d minutes, expected 5", i, m)
		}
	}
	if reads := cs.reads.Load(); reads >= callers {
		t.Errorf("expected coalesced reads, store saw %d queries for %d callers", reads, callers)
	}
}

func TestDeductMinutes(t *testing.T) {
	st := store.NewInMemoryStore()
	seedBalance(t, st, "u1", "agent-visa", 3)
	g := NewGateway(st)

	applied, err := g.DeductMinutes(context.Background(), "u1", "agent-visa", 1)
	if err != nil {
		t.Fatalf("DeductMinutes failed: %v", err)
	}
	if !applied {
		t.Fatal("expected deduction to apply")
	}

	e, err := st.GetEntitlement("u1", "agent-visa")
	if err != nil {
		t.Fatalf("GetEntitlement failed: %v", err)
	}
	if e.PurchaseUnits != 2 {
		t.Errorf("expected 2 units remaining, got %d", e.PurchaseUnits)
	}
}

func TestDeductMinutesInsufficientBalance(t *testing.T) {
	st := store.NewInMemoryStore()
	seedBalance(t, st, "u1", "agent-visa", 1)
	g := NewGateway(st)

	applied, err := g.DeductMinutes(context.Background(), "u1", "agent-visa", 2)
	if err != nil {
		t.Fatalf("insufficient balance must not error: %v", err)
	}
	if applied {
		t.Fatal("deduction must not apply against an insufficient balance")
	}

	e, _ := st.GetEntitlement("u1", "agent-visa")
	if e.PurchaseUnits != 1 {
		t.Errorf("balance must be unchanged after a refused deduction, got %d", e.PurchaseUnits)
	}
}

func TestDeductMinutesValidation(t *testing.T) {
	g := NewGateway(store.NewInMemoryStore())

	if _, err := g.DeductMinutes(context.Background(), "", "a", 1); !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
	if _, err := g.DeductMinutes(context.Background(), "u", "", 1); !errors.Is(err, models.ErrEmptyAgentID) {
		t.Errorf("expected ErrEmptyAgentID, got %v", err)
	}
	if _, err := g.DeductMinutes(context.Background(), "u", "a", 0); !errors.Is(err, models.ErrInvalidDeductAmount) {
		t.Errorf("expected ErrInvalidDeductAmount for zero, got %v", err)
	}
	if _, err := g.DeductMinutes(context.Background(), "u", "a", -1); !errors.Is(err, models.ErrInvalidDeductAmount) {
		t.Errorf("expected ErrInvalidDeductAmount for negative, got %v", err)
	}
}

func TestDeductMinutesNeverOverspendsConcurrently(t *testing.T) {
	st := store.NewInMemoryStore()
	seedBalance(t, st, "u1", "agent-visa", 5)
	g := NewGateway(st)

	const attempts = 20
	var applied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.DeductMinutes(context.Background(), "u1", "agent-visa", 1)
			if err != nil {
				t.Errorf("DeductMinutes failed: %v", err)
				return
			}
			if ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	if applied.Load() != 5 {
		t.Errorf("expected exactly 5 applied deductions, got %d", applied.Load())
	}
	e, _ := st.GetEntitlement("u1", "agent-visa")
	if e.PurchaseUnits != 0 {
		t.Errorf("expected balance drained to 0, got %d", e.PurchaseUnits)
	}
}

func TestRecordUsage(t *testing.T) {
	st := store.NewInMemoryStore()
	g := NewGateway(st)

	g.RecordUsage("u1", "agent-visa", "s_abc", 3)

	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := st.GetUsageEvents("u1")
		if err != nil {
			t.Fatalf("GetUsageEvents failed: %v", err)
		}
		if len(events) == 1 {
			ev := events[0]
			if ev.AgentID != "agent-visa" || ev.SessionID != "s_abc" || ev.MinutesUsed != 3 {
				t.Errorf("unexpected usage event: %+v", ev)
			}
			if ev.ID == "" {
				t.Error("usage event must carry a generated ID")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("usage event never recorded, have %d events", len(events))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecordUsageSkipsNonPositiveMinutes(t *testing.T) {
	st := store.NewInMemoryStore()
	g := NewGateway(st)

	g.RecordUsage("u1", "agent-visa", "s_abc", 0)
	g.RecordUsage("u1", "agent-visa", "s_abc", -2)

	time.Sleep(50 * time.Millisecond)
	events, err := st.GetUsageEvents("u1")
	if err != nil {
		t.Fatalf("GetUsageEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no usage events, got %d", len(events))
	}
}
