package core

import (
	"fmt"
	"strings"
	"sync"

	"optimus/pkg/domain"
)

// PoliticalSystem creates norms.
type PoliticalSystem struct {
	mu      sync.Mutex
	counter int
	rnd     RandomSource
}

// NewPoliticalSystem constructs a political system drawing complexity from rnd.
func NewPoliticalSystem(rnd RandomSource) *PoliticalSystem {
	if rnd == nil {
		rnd = DefaultRandom()
	}
	return &PoliticalSystem{rnd: rnd}
}

// Seed sets the law counter so generated names continue after existing norms.
func (p *PoliticalSystem) Seed(n int) {
	p.mu.Lock()
	p.counter = n
	p.mu.Unlock()
}

// CreateNorm adds a valid, not yet constitutional norm inside tx. Empty text
// becomes "Law {n}".
func (p *PoliticalSystem) CreateNorm(tx Transaction, text string) (Norm, error) {
	p.mu.Lock()
	p.counter++
	n := p.counter
	complexity := domain.MinComplexity + p.rnd.IntN(domain.MaxComplexity-domain.MinComplexity+1)
	p.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		text = fmt.Sprintf("Law %d", n)
	}
	created, err := tx.CreateNorm(Norm{
		Text:           text,
		Valid:          true,
		Complexity:     complexity,
		Constitutional: false,
	})
	if err != nil {
		return Norm{}, fmt.Errorf("create norm: %w", err)
	}
	return created, nil
}
