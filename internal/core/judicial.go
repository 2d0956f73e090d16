package core

import (
	"fmt"
	"sync"
	"time"

	"optimus/pkg/domain"
)

// JudicialSystem creates and resolves cases and rules on norms.
type JudicialSystem struct {
	mu      sync.Mutex
	counter int
}

// NewJudicialSystem constructs a judicial system.
func NewJudicialSystem() *JudicialSystem {
	return &JudicialSystem{}
}

// Seed sets the case counter so generated names continue after existing cases.
func (j *JudicialSystem) Seed(n int) {
	j.mu.Lock()
	j.counter = n
	j.mu.Unlock()
}

// CreateCase opens a pending case against norm. An invalid norm yields
// created=false and no error.
func (j *JudicialSystem) CreateCase(tx Transaction, norm Norm) (Case, bool, error) {
	if !norm.Valid {
		return Case{}, false, nil
	}
	j.mu.Lock()
	j.counter++
	n := j.counter
	j.mu.Unlock()

	created, err := tx.CreateCase(Case{
		Text:           fmt.Sprintf("Case %d", n),
		NormID:         norm.ID,
		Constitutional: true,
		Status:         domain.CaseStatusPending,
	})
	if err != nil {
		return Case{}, false, fmt.Errorf("create case: %w", err)
	}
	return created, true, nil
}

// ResolveCase marks the case solved with decision at now. Status, decision
// and resolved_at change together in one update.
func (j *JudicialSystem) ResolveCase(tx Transaction, caseID int64, decision domain.Decision, now time.Time) (Case, error) {
	return tx.UpdateCase(caseID, func(c *Case) error {
		if c.Solved() {
			return fmt.Errorf("case %d: %w", caseID, domain.ErrCaseAlreadySolved)
		}
		d := decision
		at := now
		c.Status = domain.CaseStatusSolved
		c.Decision = &d
		c.ResolvedAt = &at
		return nil
	})
}

type normFinder interface {
	FindNorm(id int64) (Norm, bool)
}

// CheckConstitutionality returns the current state of the norm. It only reads,
// so a TransactionView is enough.
func (j *JudicialSystem) CheckConstitutionality(view normFinder, normID int64) (Norm, error) {
	norm, ok := view.FindNorm(normID)
	if !ok {
		return Norm{}, domain.NotFoundError{Entity: domain.EntityNorm, ID: normID}
	}
	return norm, nil
}

// MarkUnconstitutional invalidates the norm. Already invalid norms are
// returned unchanged.
func (j *JudicialSystem) MarkUnconstitutional(tx Transaction, normID int64) (Norm, error) {
	norm, ok := tx.FindNorm(normID)
	if !ok {
		return Norm{}, domain.NotFoundError{Entity: domain.EntityNorm, ID: normID}
	}
	if !norm.Valid && !norm.Constitutional {
		return norm, nil
	}
	return tx.UpdateNorm(normID, func(n *Norm) error {
		n.Valid = false
		n.Constitutional = false
		return nil
	})
}
