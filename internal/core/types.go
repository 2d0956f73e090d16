// Package core implements the society simulation: the political and judicial
// systems, citizen pressure, the day gate, transactional rules, and the
// Service that handlers call into.
package core

import (
	"math/rand/v2"
	"sync"
	"time"

	"optimus/pkg/domain"
)

type (
	Norm            = domain.Norm
	Case            = domain.Case
	Change          = domain.Change
	Result          = domain.Result
	RulesEngine     = domain.RulesEngine
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// Event names pushed to realtime clients.
const (
	EventNormCreated     = "norm_created"
	EventNormUpdate      = "norm_update"
	EventCaseCreated     = "case_created"
	EventCasesGenerated  = "cases_generated"
	EventCaseSolved      = "case_solved"
	EventDayAdvanced     = "day_advanced"
	EventNewNotification = "new_notification"
)

// RandomSource supplies uniform integers in [0, n).
type RandomSource interface {
	IntN(n int) int
}

type globalRandom struct{}

func (globalRandom) IntN(n int) int { return rand.IntN(n) }

// DefaultRandom returns the process-wide, concurrency-safe random source.
func DefaultRandom() RandomSource { return globalRandom{} }

type seededRandom struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (s *seededRandom) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n)
}

// NewSeededRandom returns a deterministic source for tests and replays.
func NewSeededRandom(seed uint64) RandomSource {
	return &seededRandom{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Clock returns the current time.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
