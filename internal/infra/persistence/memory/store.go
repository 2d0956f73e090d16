// Package memory provides an in-memory implementation of the society
// persistence store. It is the transaction engine underneath the SQL stores
// and the backend used for tests and ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"optimus/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Norm aliases domain.Norm for in-memory persistence operations.
	Norm = domain.Norm
	// Case aliases domain.Case.
	Case = domain.Case
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// CommitHook runs after rules pass and before the new state becomes visible.
// Returning an error aborts the transaction and leaves the store untouched.
type CommitHook func(ctx context.Context, changes []Change) error

type memoryState struct {
	norms      map[int64]Norm
	cases      map[int64]Case
	lastNormID int64
	lastCaseID int64
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Norms map[int64]Norm `json:"norms"`
	Cases map[int64]Case `json:"cases"`
}

func newMemoryState() memoryState {
	return memoryState{
		norms: make(map[int64]Norm),
		cases: make(map[int64]Case),
	}
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{
		norms:      make(map[int64]Norm, len(s.norms)),
		cases:      make(map[int64]Case, len(s.cases)),
		lastNormID: s.lastNormID,
		lastCaseID: s.lastCaseID,
	}
	for k, v := range s.norms {
		cloned.norms[k] = v
	}
	for k, v := range s.cases {
		cloned.cases[k] = cloneCase(v)
	}
	return cloned
}

func cloneCase(c Case) Case {
	if c.Decision != nil {
		d := *c.Decision
		c.Decision = &d
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{Norms: cloned.norms, Cases: cloned.cases}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for id, n := range s.Norms {
		n.ID = id
		state.norms[id] = n
		if id > state.lastNormID {
			state.lastNormID = id
		}
	}
	for id, c := range s.Cases {
		c.ID = id
		state.cases[id] = cloneCase(c)
		if id > state.lastCaseID {
			state.lastCaseID = id
		}
	}
	return state
}

// Option customizes a Store at construction.
type Option func(*Store)

// WithCommitHook installs a hook that must succeed before a transaction commits.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.hook = hook }
}

// WithClock overrides the clock used to stamp created_at on new records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// Store is an in-memory implementation of the persistence contract.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	hook   CommitHook
}

// NewStore constructs an empty memory store bound to the supplied rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState returns a deep copy of the current state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the current state with the snapshot contents.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the engine evaluated on every commit.
func (s *Store) RulesEngine() *RulesEngine {
	return s.engine
}

// NowFunc returns the clock used by transactions.
func (s *Store) NowFunc() func() time.Time {
	return s.nowFn
}

// Close releases nothing for the memory store.
func (s *Store) Close() error { return nil }

type transaction struct {
	state   memoryState
	now     time.Time
	changes []Change
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListNorms() []Norm {
	out := make([]Norm, 0, len(v.state.norms))
	for _, n := range v.state.norms {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListCases() []Case {
	out := make([]Case, 0, len(v.state.cases))
	for _, c := range v.state.cases {
		out = append(out, cloneCase(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) FindNorm(id int64) (Norm, bool) {
	n, ok := v.state.norms[id]
	return n, ok
}

func (v transactionView) FindCase(id int64) (Case, bool) {
	c, ok := v.state.cases[id]
	if !ok {
		return Case{}, false
	}
	return cloneCase(c), true
}

// RunInTransaction executes fn against a private copy of the state. Rules are
// evaluated over the resulting changes and, when a commit hook is installed,
// the hook must succeed before the copy replaces the live state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.hook != nil && len(tx.changes) > 0 {
		if err := s.hook(ctx, tx.changes); err != nil {
			return result, err
		}
	}

	s.state = tx.state
	return result, nil
}

// View runs fn against a read-only snapshot of the state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

// GetNorm returns the norm with the given id.
func (s *Store) GetNorm(id int64) (Norm, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.state.norms[id]
	return n, ok
}

// ListNorms returns all norms ordered by id.
func (s *Store) ListNorms() []Norm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListNorms()
}

// GetCase returns the case with the given id.
func (s *Store) GetCase(id int64) (Case, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.cases[id]
	if !ok {
		return Case{}, false
	}
	return cloneCase(c), true
}

// ListCases returns all cases ordered by id.
func (s *Store) ListCases() []Case {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListCases()
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) FindNorm(id int64) (Norm, bool) {
	n, ok := tx.state.norms[id]
	return n, ok
}

func (tx *transaction) FindCase(id int64) (Case, bool) {
	c, ok := tx.state.cases[id]
	if !ok {
		return Case{}, false
	}
	return cloneCase(c), true
}

func (tx *transaction) CreateNorm(n Norm) (Norm, error) {
	if n.ID == 0 {
		tx.state.lastNormID++
		n.ID = tx.state.lastNormID
	} else if _, exists := tx.state.norms[n.ID]; exists {
		return Norm{}, fmt.Errorf("%w: norm %d already exists", domain.ErrConflict, n.ID)
	} else if n.ID > tx.state.lastNormID {
		tx.state.lastNormID = n.ID
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = tx.now
	}
	tx.state.norms[n.ID] = n
	tx.recordChange(Change{Entity: domain.EntityNorm, Action: domain.ActionCreate, After: n})
	return n, nil
}

func (tx *transaction) UpdateNorm(id int64, mutator func(*Norm) error) (Norm, error) {
	current, ok := tx.state.norms[id]
	if !ok {
		return Norm{}, domain.NotFoundError{Entity: domain.EntityNorm, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Norm{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	tx.state.norms[id] = current
	tx.recordChange(Change{Entity: domain.EntityNorm, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

func (tx *transaction) CreateCase(c Case) (Case, error) {
	if _, ok := tx.state.norms[c.NormID]; !ok {
		return Case{}, domain.NotFoundError{Entity: domain.EntityNorm, ID: c.NormID}
	}
	if c.ID == 0 {
		tx.state.lastCaseID++
		c.ID = tx.state.lastCaseID
	} else if _, exists := tx.state.cases[c.ID]; exists {
		return Case{}, fmt.Errorf("%w: case %d already exists", domain.ErrConflict, c.ID)
	} else if c.ID > tx.state.lastCaseID {
		tx.state.lastCaseID = c.ID
	}
	if c.Status == "" {
		c.Status = domain.CaseStatusPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = tx.now
	}
	c = cloneCase(c)
	tx.state.cases[c.ID] = c
	tx.recordChange(Change{Entity: domain.EntityCase, Action: domain.ActionCreate, After: cloneCase(c)})
	return cloneCase(c), nil
}

func (tx *transaction) UpdateCase(id int64, mutator func(*Case) error) (Case, error) {
	current, ok := tx.state.cases[id]
	if !ok {
		return Case{}, domain.NotFoundError{Entity: domain.EntityCase, ID: id}
	}
	before := cloneCase(current)
	current = cloneCase(current)
	if err := mutator(&current); err != nil {
		return Case{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	tx.state.cases[id] = current
	tx.recordChange(Change{Entity: domain.EntityCase, Action: domain.ActionUpdate, Before: before, After: cloneCase(current)})
	return cloneCase(current), nil
}
