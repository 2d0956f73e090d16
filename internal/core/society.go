package core

import (
	"sync"

	"optimus/pkg/domain"
)

// DayState is the day counter and the two completion flags.
type DayState struct {
	Iteration     int  `json:"iteration"`
	PoliticalDone bool `json:"political_done"`
	JudicialDone  bool `json:"judicial_done"`
}

// Society owns the three systems and the day gate.
type Society struct {
	Political *PoliticalSystem
	Judicial  *JudicialSystem
	Citizens  *CitizenPressure

	mu    sync.Mutex
	state DayState
}

// NewSociety wires the three systems. None may be nil.
func NewSociety(political *PoliticalSystem, judicial *JudicialSystem, citizens *CitizenPressure) *Society {
	return &Society{Political: political, Judicial: judicial, Citizens: citizens}
}

// MarkPolitical records a successful political action for the current day.
func (s *Society) MarkPolitical() {
	s.mu.Lock()
	s.state.PoliticalDone = true
	s.mu.Unlock()
}

// MarkJudicial records a successful judicial action for the current day.
func (s *Society) MarkJudicial() {
	s.mu.Lock()
	s.state.JudicialDone = true
	s.mu.Unlock()
}

// SimulateDay advances the iteration when both branches acted and resets the
// flags. Otherwise it fails with ErrDayIncomplete and changes nothing.
func (s *Society) SimulateDay() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.PoliticalDone || !s.state.JudicialDone {
		return s.state.Iteration, domain.ErrDayIncomplete
	}
	s.state.Iteration++
	s.state.PoliticalDone = false
	s.state.JudicialDone = false
	return s.state.Iteration, nil
}

// State returns a copy of the day gate.
func (s *Society) State() DayState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
