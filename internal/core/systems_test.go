package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"optimus/internal/infra/persistence/memory"
	"optimus/pkg/domain"
)

func runTx(t *testing.T, store *memory.Store, fn func(Transaction) error) error {
	t.Helper()
	_, err := store.RunInTransaction(context.Background(), fn)
	return err
}

func TestPoliticalSystemComplexityRangeAndNames(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	political := NewPoliticalSystem(NewSeededRandom(7))
	seen := make(map[int]bool)
	for i := 1; i <= 300; i++ {
		var norm Norm
		if err := runTx(t, store, func(tx Transaction) error {
			var err error
			norm, err = political.CreateNorm(tx, "")
			return err
		}); err != nil {
			t.Fatalf("create norm %d: %v", i, err)
		}
		if norm.Complexity < 1 || norm.Complexity > 10 {
			t.Fatalf("complexity %d out of range", norm.Complexity)
		}
		seen[norm.Complexity] = true
		if !norm.Valid || norm.Constitutional {
			t.Fatalf("new norm should be valid and not constitutional: %+v", norm)
		}
		if i == 1 && norm.Text != "Law 1" {
			t.Fatalf("expected default text Law 1, got %q", norm.Text)
		}
	}
	if len(seen) != 10 {
		t.Fatalf("expected every complexity in [1,10] to appear, saw %d values", len(seen))
	}
}

func TestPoliticalSystemKeepsProvidedText(t *testing.T) {
	store := memory.NewStore(nil)
	political := NewPoliticalSystem(&sequenceRandom{values: []int{9}})
	political.Seed(4)
	var norm Norm
	if err := runTx(t, store, func(tx Transaction) error {
		var err error
		norm, err = political.CreateNorm(tx, "  Curfew act ")
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if norm.Text != "Curfew act" || norm.Complexity != 10 {
		t.Fatalf("unexpected norm %+v", norm)
	}
	if err := runTx(t, store, func(tx Transaction) error {
		norm, _ = political.CreateNorm(tx, "")
		return nil
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if norm.Text != "Law 6" {
		t.Fatalf("expected counter to continue after seed, got %q", norm.Text)
	}
}

func TestJudicialSystemCaseLifecycle(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	judicial := NewJudicialSystem()
	var norm Norm
	if err := runTx(t, store, func(tx Transaction) error {
		var err error
		norm, err = tx.CreateNorm(Norm{Text: "Law", Valid: true, Complexity: 2})
		return err
	}); err != nil {
		t.Fatalf("seed norm: %v", err)
	}

	var c Case
	if err := runTx(t, store, func(tx Transaction) error {
		var created bool
		var err error
		c, created, err = judicial.CreateCase(tx, norm)
		if !created {
			t.Fatalf("expected case to be created")
		}
		return err
	}); err != nil {
		t.Fatalf("create case: %v", err)
	}
	if c.Text != "Case 1" || c.Status != domain.CaseStatusPending || !c.Constitutional || c.ResolvedAt != nil {
		t.Fatalf("unexpected case %+v", c)
	}

	if err := runTx(t, store, func(tx Transaction) error {
		var err error
		c, err = judicial.ResolveCase(tx, c.ID, domain.DecisionRejected, testNow)
		return err
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !c.Solved() || c.ResolvedAt == nil || !c.ResolvedAt.Equal(testNow) || *c.Decision != domain.DecisionRejected {
		t.Fatalf("unexpected resolved case %+v", c)
	}

	err := runTx(t, store, func(tx Transaction) error {
		_, err := judicial.ResolveCase(tx, c.ID, domain.DecisionAccepted, testNow)
		return err
	})
	if !errors.Is(err, domain.ErrConflict) || !errors.Is(err, domain.ErrCaseAlreadySolved) {
		t.Fatalf("expected already solved conflict, got %v", err)
	}
	stored, _ := store.GetCase(c.ID)
	if *stored.Decision != domain.DecisionRejected {
		t.Fatalf("second resolution must not overwrite decision")
	}

	err = runTx(t, store, func(tx Transaction) error {
		_, err := judicial.ResolveCase(tx, 99, domain.DecisionAccepted, testNow)
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestJudicialSystemInvalidNormCreatesNothing(t *testing.T) {
	store := memory.NewStore(nil)
	judicial := NewJudicialSystem()
	if err := runTx(t, store, func(tx Transaction) error {
		c, created, err := judicial.CreateCase(tx, Norm{ID: 3, Valid: false})
		if created || c.ID != 0 || err != nil {
			t.Fatalf("expected no case, got %+v %v %v", c, created, err)
		}
		return nil
	}); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if len(store.ListCases()) != 0 {
		t.Fatalf("expected no stored cases")
	}
}

func TestJudicialSystemMarkUnconstitutional(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	judicial := NewJudicialSystem()
	if err := runTx(t, store, func(tx Transaction) error {
		_, err := tx.CreateNorm(Norm{Text: "Law", Valid: true, Complexity: 4})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 2; i++ {
		var norm Norm
		if err := runTx(t, store, func(tx Transaction) error {
			var err error
			norm, err = judicial.MarkUnconstitutional(tx, 1)
			return err
		}); err != nil {
			t.Fatalf("mark %d: %v", i, err)
		}
		if norm.Valid || norm.Constitutional {
			t.Fatalf("expected invalid norm, got %+v", norm)
		}
	}
	err := runTx(t, store, func(tx Transaction) error {
		_, err := judicial.MarkUnconstitutional(tx, 2)
		return err
	})
	var nf domain.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != domain.EntityNorm {
		t.Fatalf("expected norm not found, got %v", err)
	}
	if err := store.View(context.Background(), func(v TransactionView) error {
		norm, err := judicial.CheckConstitutionality(v, 1)
		if err == nil && norm.Valid {
			t.Fatalf("check should report the invalidated norm")
		}
		return err
	}); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestCitizenPressureGeneratesBatch(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	var norm Norm
	if err := runTx(t, store, func(tx Transaction) error {
		var err error
		norm, err = tx.CreateNorm(Norm{Text: "Law 1", Valid: true, Complexity: 1})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	citizens := NewCitizenPressure(&sequenceRandom{values: []int{0, 2}}, 0)
	var cases []Case
	if err := runTx(t, store, func(tx Transaction) error {
		var err error
		cases, err = citizens.GenerateCases(tx, []Norm{norm})
		return err
	}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(cases) != DefaultBatchSize {
		t.Fatalf("expected %d cases, got %d", DefaultBatchSize, len(cases))
	}
	for _, c := range cases {
		if c.NormID != norm.ID || c.Status != domain.CaseStatusPending || !c.Constitutional {
			t.Fatalf("unexpected case %+v", c)
		}
		if c.Text != "Citizen Petition: Labor Dispute regarding norm Law 1" {
			t.Fatalf("unexpected text %q", c.Text)
		}
	}

	if err := runTx(t, store, func(tx Transaction) error {
		empty, err := citizens.GenerateCases(tx, nil)
		if empty == nil || len(empty) != 0 {
			t.Fatalf("expected empty non-nil batch")
		}
		return err
	}); err != nil {
		t.Fatalf("generate empty: %v", err)
	}
}

func TestSocietyDayGate(t *testing.T) {
	s := NewSociety(NewPoliticalSystem(nil), NewJudicialSystem(), NewCitizenPressure(nil, 0))
	if _, err := s.SimulateDay(); !errors.Is(err, domain.ErrDayIncomplete) {
		t.Fatalf("expected day incomplete, got %v", err)
	}
	s.MarkPolitical()
	if _, err := s.SimulateDay(); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("expected precondition with only political, got %v", err)
	}
	if st := s.State(); st.Iteration != 0 || !st.PoliticalDone || st.JudicialDone {
		t.Fatalf("failed advance must not change state: %+v", st)
	}
	s.MarkJudicial()
	n, err := s.SimulateDay()
	if err != nil || n != 1 {
		t.Fatalf("expected day 1, got %d %v", n, err)
	}
	if st := s.State(); st.PoliticalDone || st.JudicialDone {
		t.Fatalf("flags should reset: %+v", st)
	}
	if !strings.Contains(domain.ErrDayIncomplete.Error(), "Both actions") {
		t.Fatalf("unexpected message")
	}
}

func TestSocietyDayGateConcurrentAdvance(t *testing.T) {
	s := NewSociety(NewPoliticalSystem(nil), NewJudicialSystem(), NewCitizenPressure(nil, 0))
	s.MarkPolitical()
	s.MarkJudicial()

	const workers = 64
	var (
		wg        sync.WaitGroup
		successes atomic.Int64
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.SimulateDay(); err == nil {
				successes.Add(1)
			} else if !errors.Is(err, domain.ErrDayIncomplete) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 {
		t.Fatalf("expected exactly one advance, got %d", successes.Load())
	}
	if st := s.State(); st.Iteration != 1 || st.PoliticalDone || st.JudicialDone {
		t.Fatalf("unexpected state after racing advances: %+v", st)
	}
}

func TestSocietyMarksRaceWithAdvance(t *testing.T) {
	s := NewSociety(NewPoliticalSystem(nil), NewJudicialSystem(), NewCitizenPressure(nil, 0))

	const rounds = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			s.MarkPolitical()
			s.MarkJudicial()
		}
	}()
	advanced := 0
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			if _, err := s.SimulateDay(); err == nil {
				advanced++
			}
		}
	}()
	wg.Wait()

	if st := s.State(); st.Iteration != advanced {
		t.Fatalf("iteration %d does not match %d successful advances", st.Iteration, advanced)
	}
}
